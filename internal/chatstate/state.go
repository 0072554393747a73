/*
Package chatstate maintains the receiver-side visible state of every conversation
and guarantees idempotent application of delivery-protocol events.

Envelopes may arrive twice (relay retransmission, re-sync after reconnect) and
over either transport; applying the same logical event any number of times must
yield the same visible state as applying it once. Chat is keyed by the
sender-generated message id. Edit, delete and reaction carry their own
sender-minted operation id; each chat keeps a ledger of applied operation ids
so a replayed operation is a strict no-op even when a later operation has
already superseded it. Reactions are a true toggle keyed by
(messageID, emoji, userID); only distinct operation ids toggle.
*/
package chatstate

import (
	"sort"
	"sync"
)

// Message is one visible chat message. A deleted message stays as a tombstone
// so late edits and duplicate deletes stay no-ops.
type Message struct {
	ID       string
	SenderID string
	Text     string
	SentAt   int64
	Edited   bool
	Deleted  bool
}

// Sink receives exactly one callback per visible state change. Suppressed
// duplicates produce no callback. Implementations render to whatever UI exists;
// the core never touches presentation.
type Sink interface {
	OnMessage(chatID string, msg Message)
	OnEdit(chatID string, messageID, newText string)
	OnDelete(chatID string, messageID string)
	OnReaction(chatID string, messageID, emoji string, reactors []string)
	OnTyping(chatID string, userID string, isTyping bool)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) OnMessage(string, Message)                  {}
func (NopSink) OnEdit(string, string, string)              {}
func (NopSink) OnDelete(string, string)                    {}
func (NopSink) OnReaction(string, string, string, []string) {}
func (NopSink) OnTyping(string, string, bool)              {}

type reactionKey struct {
	messageID string
	emoji     string
}

// chatLog is the state of one conversation (a room or a peer).
type chatLog struct {
	messages  map[string]*Message
	order     []string
	reactions map[reactionKey]map[string]struct{}

	// ops records the operation ids already applied to this chat. A replayed
	// edit must not revert a later one and a replayed reaction must not
	// un-toggle, so text comparison and set membership are not enough.
	ops map[string]struct{}
}

// seenOp reports whether opID was already applied. An empty opID bypasses the
// ledger.
func (l *chatLog) seenOp(opID string) bool {
	if opID == "" {
		return false
	}
	_, dup := l.ops[opID]
	return dup
}

// recordOp enters opID into the ledger once the operation has applied. An
// operation suppressed for an unknown target is not recorded, so it can still
// land on retransmission after the target arrives.
func (l *chatLog) recordOp(opID string) {
	if opID != "" {
		l.ops[opID] = struct{}{}
	}
}

// State is the idempotent-apply engine over all conversations.
type State struct {
	mu    sync.Mutex
	chats map[string]*chatLog
	sink  Sink
}

// New constructs a State delivering visible changes to sink. A nil sink is
// replaced with NopSink.
func New(sink Sink) *State {
	if sink == nil {
		sink = NopSink{}
	}
	return &State{
		chats: make(map[string]*chatLog),
		sink:  sink,
	}
}

func (s *State) chat(chatID string) *chatLog {
	log, ok := s.chats[chatID]
	if !ok {
		log = &chatLog{
			messages:  make(map[string]*Message),
			reactions: make(map[reactionKey]map[string]struct{}),
			ops:       make(map[string]struct{}),
		}
		s.chats[chatID] = log
	}
	return log
}

// ApplyChat inserts a chat message. A duplicate message id is a no-op.
// Returns whether the state changed.
func (s *State) ApplyChat(chatID, senderID, messageID, text string, sentAt int64) bool {
	s.mu.Lock()
	log := s.chat(chatID)
	if _, dup := log.messages[messageID]; dup {
		s.mu.Unlock()
		return false
	}

	msg := &Message{ID: messageID, SenderID: senderID, Text: text, SentAt: sentAt}
	log.messages[messageID] = msg
	log.order = append(log.order, messageID)
	applied := *msg
	s.mu.Unlock()

	s.sink.OnMessage(chatID, applied)
	return true
}

// ApplyEdit rewrites a message's text. opID is the sender-minted id of this
// edit; replaying it is a no-op even after a later edit, so a retransmitted
// edit can never revert the text. Unknown targets, deleted targets and edits
// that change nothing are also no-ops.
func (s *State) ApplyEdit(chatID, opID, messageID, newText string) bool {
	s.mu.Lock()
	log := s.chat(chatID)
	msg, ok := log.messages[messageID]
	if log.seenOp(opID) || !ok || msg.Deleted || msg.Text == newText {
		s.mu.Unlock()
		return false
	}

	msg.Text = newText
	msg.Edited = true
	log.recordOp(opID)
	s.mu.Unlock()

	s.sink.OnEdit(chatID, messageID, newText)
	return true
}

// ApplyDelete tombstones a message. Unknown targets, replayed opIDs and
// repeated deletes are no-ops; a double-delete is never an error.
func (s *State) ApplyDelete(chatID, opID, messageID string) bool {
	s.mu.Lock()
	log := s.chat(chatID)
	msg, ok := log.messages[messageID]
	if log.seenOp(opID) || !ok || msg.Deleted {
		s.mu.Unlock()
		return false
	}

	msg.Deleted = true
	msg.Text = ""
	log.recordOp(opID)
	s.mu.Unlock()

	s.sink.OnDelete(chatID, messageID)
	return true
}

// ApplyReaction toggles userID's reaction on (messageID, emoji). Only distinct
// opIDs toggle; redelivering the same operation leaves the aggregate alone.
// Toggling twice with fresh ids returns it to the pre-toggle state. Returns
// whether the state changed.
func (s *State) ApplyReaction(chatID, opID, messageID, emoji, userID string) bool {
	key := reactionKey{messageID: messageID, emoji: emoji}

	s.mu.Lock()
	log := s.chat(chatID)
	if log.seenOp(opID) {
		s.mu.Unlock()
		return false
	}
	set, ok := log.reactions[key]
	if !ok {
		set = make(map[string]struct{})
		log.reactions[key] = set
	}

	if _, reacted := set[userID]; reacted {
		delete(set, userID)
	} else {
		set[userID] = struct{}{}
	}

	reactors := make([]string, 0, len(set))
	for id := range set {
		reactors = append(reactors, id)
	}
	sort.Strings(reactors)
	log.recordOp(opID)
	s.mu.Unlock()

	s.sink.OnReaction(chatID, messageID, emoji, reactors)
	return true
}

// ApplyTyping forwards a transient typing indicator. Typing is not state; it is
// never deduplicated.
func (s *State) ApplyTyping(chatID, userID string, isTyping bool) {
	s.sink.OnTyping(chatID, userID, isTyping)
}

// Messages returns the visible messages of a conversation in arrival order,
// excluding tombstones.
func (s *State) Messages(chatID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.chats[chatID]
	if !ok {
		return nil
	}

	out := make([]Message, 0, len(log.order))
	for _, id := range log.order {
		msg := log.messages[id]
		if msg.Deleted {
			continue
		}
		out = append(out, *msg)
	}
	return out
}

// Reactors returns the sorted user ids currently reacting with emoji on a
// message.
func (s *State) Reactors(chatID, messageID, emoji string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.chats[chatID]
	if !ok {
		return nil
	}

	set := log.reactions[reactionKey{messageID: messageID, emoji: emoji}]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
