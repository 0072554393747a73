/*
Package registry owns the authoritative room state of the rendezvous server.

It maps room identifiers to membership sets, privacy flags, leadership and the
one-way PIN verifier, and enforces every membership-sensitive authorization
rule. Rooms are ephemeral: an empty room is destroyed immediately.
*/
package registry

import (
	"html"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"peerchat/internal/pkg/errs"
	"peerchat/internal/pkg/logx"
	"peerchat/internal/pkg/randx"
	"peerchat/internal/protocol"
)

// pinHashCost matches the cost the browser-facing deployment always used.
const pinHashCost = 10

// Room is a single registered room. The pinVerifier is a bcrypt hash and never
// leaves the registry.
type Room struct {
	ID          string
	Name        string
	IsPrivate   bool
	LeadUserID  string
	pinVerifier []byte
	members     map[string]struct{}
}

// NameResolver maps a user id to a display name for snapshots. Unresolvable
// members are skipped, mirroring how stale ids were filtered from serialized
// rooms.
type NameResolver func(userID string) (string, bool)

// LeaveResult describes the outcome of removing one user from one room.
type LeaveResult struct {
	RoomID    string
	Destroyed bool
	NewLeadID string
}

// Registry is the room store. Safe for concurrent use; the hub serializes all
// mutation anyway.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	logger zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logx.Component("registry"),
	}
}

// Create registers a new room with the caller as lead and sole member. For a
// private room with a PIN only the bcrypt verifier is stored, never the PIN.
func (r *Registry) Create(callerID, name string, isPrivate bool, pin string) (string, *errs.CustomError) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errs.NewError(errs.ErrValidation, "room name")
	}

	var verifier []byte
	if isPrivate && pin != "" {
		if !randx.IsValidPin(pin) {
			return "", errs.NewError(errs.ErrValidation, "PIN")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinHashCost)
		if err != nil {
			return "", errs.NewError(errs.ErrUnknown, err)
		}
		verifier = hash
	}

	room := &Room{
		ID:          randx.NewID(),
		Name:        html.EscapeString(name),
		IsPrivate:   isPrivate,
		LeadUserID:  callerID,
		pinVerifier: verifier,
		members:     map[string]struct{}{callerID: {}},
	}

	r.mu.Lock()
	r.rooms[room.ID] = room
	r.mu.Unlock()

	r.logger.Info().
		Str("room_id", room.ID).
		Str("name", room.Name).
		Bool("private", isPrivate).
		Str("lead", callerID).
		Msg("Room created.")

	return room.ID, nil
}

// Join adds the caller to a room, checking the PIN verifier for private rooms.
func (r *Registry) Join(callerID, roomID, pin string) *errs.CustomError {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	if room.IsPrivate && room.pinVerifier != nil {
		if pin == "" || bcrypt.CompareHashAndPassword(room.pinVerifier, []byte(pin)) != nil {
			return errs.NewError(errs.ErrUnauthorized)
		}
	}

	room.members[callerID] = struct{}{}
	return nil
}

// JoinByPin scans private rooms comparing the supplied PIN against each
// verifier and joins the first match. The scan is linear over an unordered map;
// PINs are expected to be unique across live private rooms.
func (r *Registry) JoinByPin(callerID, pin string) (string, *errs.CustomError) {
	if pin == "" {
		return "", errs.NewError(errs.ErrValidation, "PIN")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		if !room.IsPrivate || room.pinVerifier == nil {
			continue
		}
		if bcrypt.CompareHashAndPassword(room.pinVerifier, []byte(pin)) == nil {
			room.members[callerID] = struct{}{}
			return room.ID, nil
		}
	}

	return "", errs.NewError(errs.ErrRoomNotFound)
}

// Kick removes targetID from the room. Only the current lead may call; anyone
// else gets Unauthorized and membership is unchanged. The return reports
// whether the target was actually a member.
func (r *Registry) Kick(callerID, roomID, targetID string) (bool, *errs.CustomError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false, errs.NewError(errs.ErrRoomNotFound)
	}
	if room.LeadUserID != callerID {
		return false, errs.NewError(errs.ErrUnauthorized)
	}

	if _, member := room.members[targetID]; !member {
		return false, nil
	}

	delete(room.members, targetID)
	r.logger.Info().Str("room_id", roomID).Str("target", targetID).Msg("Member kicked.")

	// The lead cannot kick themselves, so the room stays non-empty and led.
	return true, nil
}

// Leave removes the caller from the room. An emptied room is destroyed;
// otherwise, if the leaver was lead, leadership transfers to the member with
// the lowest user id so the choice is deterministic.
func (r *Registry) Leave(callerID, roomID string) (LeaveResult, *errs.CustomError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{}, errs.NewError(errs.ErrRoomNotFound)
	}
	if _, member := room.members[callerID]; !member {
		return LeaveResult{}, errs.NewError(errs.ErrUnauthorized)
	}

	return r.removeLocked(room, callerID), nil
}

// RemoveUser processes a disconnect as an implicit leave from every room the
// user belonged to, applying the destroy/lead-transfer rules per room.
func (r *Registry) RemoveUser(userID string) []LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var results []LeaveResult
	for _, room := range r.rooms {
		if _, member := room.members[userID]; member {
			results = append(results, r.removeLocked(room, userID))
		}
	}
	return results
}

// removeLocked drops userID from room and settles destruction and leadership.
// Caller holds r.mu.
func (r *Registry) removeLocked(room *Room, userID string) LeaveResult {
	delete(room.members, userID)

	if len(room.members) == 0 {
		delete(r.rooms, room.ID)
		r.logger.Info().Str("room_id", room.ID).Msg("Room destroyed (empty).")
		return LeaveResult{RoomID: room.ID, Destroyed: true}
	}

	res := LeaveResult{RoomID: room.ID}
	if room.LeadUserID == userID {
		ids := make([]string, 0, len(room.members))
		for id := range room.members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		room.LeadUserID = ids[0]
		res.NewLeadID = room.LeadUserID
		r.logger.Info().Str("room_id", room.ID).Str("new_lead", room.LeadUserID).Msg("Leadership transferred.")
	}
	return res
}

// RequireMember gates membership-sensitive actions: message, typing, edit,
// delete and reaction all pass through here.
func (r *Registry) RequireMember(callerID, roomID string) *errs.CustomError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return errs.NewError(errs.ErrRoomNotFound)
	}
	if _, member := room.members[callerID]; !member {
		return errs.NewError(errs.ErrUnauthorized)
	}
	return nil
}

// Members returns the current member ids of a room.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(room.members))
	for id := range room.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot serializes one room for the wire. The verifier is omitted by
// construction.
func (r *Registry) Snapshot(roomID string, resolve NameResolver) (protocol.RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return protocol.RoomInfo{}, false
	}
	return snapshotLocked(room, resolve), true
}

// ListInfos serializes every room, ordered by room id for stable broadcasts.
func (r *Registry) ListInfos(resolve NameResolver) []protocol.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, snapshotLocked(room, resolve))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func snapshotLocked(room *Room, resolve NameResolver) protocol.RoomInfo {
	if resolve == nil {
		resolve = func(id string) (string, bool) { return id, true }
	}

	ids := make([]string, 0, len(room.members))
	for id := range room.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	members := make([]protocol.RoomMember, 0, len(ids))
	for _, id := range ids {
		name, ok := resolve(id)
		if !ok {
			continue
		}
		members = append(members, protocol.RoomMember{ID: id, Name: name})
	}

	return protocol.RoomInfo{
		ID:         room.ID,
		Name:       room.Name,
		IsPrivate:  room.IsPrivate,
		LeadUserID: room.LeadUserID,
		Members:    members,
	}
}
