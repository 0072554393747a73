/*
Package session owns the identity and session state of the rendezvous server.

It maps stable user identifiers to the transport endpoint of their current
connection and to their profile. State is ephemeral: an identity survives a
reconnect only because the client presents its previous id, and is destroyed
when the owning connection closes.
*/
package session

import (
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"peerchat/internal/pkg/errs"
	"peerchat/internal/pkg/logx"
	"peerchat/internal/pkg/randx"
	"peerchat/internal/protocol"
)

// Endpoint is the transport-facing side of a session. The store never blocks on
// delivery; implementations queue or drop.
type Endpoint interface {
	Deliver(frame protocol.Frame)
}

// record binds a user profile to its current endpoint.
type record struct {
	user     protocol.User
	endpoint Endpoint
}

// Store is the authoritative identity and session registry. Methods are safe
// for concurrent use, though the hub serializes all mutation through its event
// loop.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*record
	logger zerolog.Logger
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		users:  make(map[string]*record),
		logger: logx.Component("session"),
	}
}

// Join binds an identity to the calling session's endpoint. If existingID is
// empty or unknown a fresh identifier is minted; otherwise the identity is
// reused and its endpoint replaced, which is how reconnect-with-same-identity
// works. The display name is HTML-escaped before storage.
func (s *Store) Join(name, avatarURL, existingID string, ep Endpoint) (protocol.User, *errs.CustomError) {
	name = strings.TrimSpace(name)
	if name == "" {
		return protocol.User{}, errs.NewError(errs.ErrValidation, "name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reuse the presented id only if it is well formed and still bound; any
	// other value gets a fresh identity.
	id := existingID
	if !randx.IsValidID(id) {
		id = randx.NewID()
	} else if _, known := s.users[id]; !known {
		id = randx.NewID()
	}

	u := protocol.User{
		ID:        id,
		Name:      html.EscapeString(name),
		AvatarURL: avatarURL,
		JoinedAt:  time.Now().UnixMilli(),
	}

	if existing, ok := s.users[id]; ok {
		// Reconnect: keep the original join time, replace the endpoint.
		u.JoinedAt = existing.user.JoinedAt
	}

	s.users[id] = &record{user: u, endpoint: ep}

	s.logger.Info().Str("user_id", id).Str("name", u.Name).Msg("User joined network.")
	return u, nil
}

// Update mutates the profile fields present in the request. Ownership is
// enforced by the session-to-identity binding: if userID is not bound to the
// given endpoint the call is a silent no-op, matching the relay's behavior of
// never informing other sessions about a failed request.
func (s *Store) Update(userID string, ep Endpoint, name, avatarURL string) (protocol.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok || rec.endpoint != ep {
		return protocol.User{}, false
	}

	if trimmed := strings.TrimSpace(name); trimmed != "" {
		rec.user.Name = html.EscapeString(trimmed)
	}
	if avatarURL != "" {
		rec.user.AvatarURL = avatarURL
	}

	return rec.user, true
}

// Leave removes the identity. Room membership cleanup is the hub's job; the
// store only forgets the binding.
func (s *Store) Leave(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		delete(s.users, userID)
		s.logger.Info().Str("user_id", userID).Msg("User left network.")
	}
}

// Get returns the profile for userID.
func (s *Store) Get(userID string) (protocol.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return protocol.User{}, false
	}
	return rec.user, true
}

// Endpoint returns the current transport endpoint for userID. Callers use this
// for relay forwarding; a missing endpoint means the target is offline and the
// payload is dropped.
func (s *Store) Endpoint(userID string) (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	return rec.endpoint, true
}

// Name resolves a user id to its display name for room snapshots.
func (s *Store) Name(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return "", false
	}
	return rec.user.Name, true
}

// List returns all online users ordered by join time, then id, so repeated
// broadcasts are stable.
func (s *Store) List() []protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.User, 0, len(s.users))
	for _, rec := range s.users {
		out = append(out, rec.user)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// Endpoints returns every live endpoint, for whole-network broadcasts.
func (s *Store) Endpoints() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Endpoint, 0, len(s.users))
	for _, rec := range s.users {
		out = append(out, rec.endpoint)
	}
	return out
}
