// Package client holds the session-local mirror of conversations and messages
// plus the controller that keeps it synchronized with the server. The store
// mutates optimistically so the UI never waits on the network; every optimistic
// change carries a pending-mutation record so it can be confirmed or rolled
// back when the remote call resolves.
package client

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kha1dx/clarityai/internal/models"
)

// Tab is the active list filter.
type Tab string

const (
	TabAll      Tab = "all"
	TabStarred  Tab = "starred"
	TabArchived Tab = "archived"
)

// Mutable conversation fields tracked by pending-mutation records.
const (
	FieldTitle    = "title"
	FieldStarred  = "is_starred"
	FieldArchived = "is_archived"
	FieldTags     = "tags"
	FieldCategory = "category"
)

type pendingKey struct {
	id    uuid.UUID
	field string
}

// pendingMutation captures the pre-mutation value and the sequence number of
// the request that owns it. Only the response carrying the highest sequence
// seen for a field may confirm or roll it back; stale responses are discarded.
type pendingMutation struct {
	previous interface{}
	seq      uint64
}

// Store is the single in-memory structure mirroring the active session's
// conversations and messages. All access goes through its methods; there is
// no shared mutable state outside it.
type Store struct {
	mu sync.RWMutex

	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]models.Message
	lastPreview   map[uuid.UUID]string
	unread        map[uuid.UUID]int

	activeID uuid.UUID
	search   string
	tab      Tab

	pending map[pendingKey]*pendingMutation
	seq     map[pendingKey]uint64
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID][]models.Message),
		lastPreview:   make(map[uuid.UUID]string),
		unread:        make(map[uuid.UUID]int),
		tab:           TabAll,
		pending:       make(map[pendingKey]*pendingMutation),
		seq:           make(map[pendingKey]uint64),
	}
}

// ─── Population ─────────────────────────────────────────────────────────────

// Load replaces the conversation set, e.g. after the initial list call.
// Message lists and counters for conversations that disappeared are dropped.
func (s *Store) Load(convs []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[uuid.UUID]struct{}, len(convs))
	for i := range convs {
		conv := convs[i]
		s.conversations[conv.ID] = &conv
		keep[conv.ID] = struct{}{}
	}
	for id := range s.conversations {
		if _, ok := keep[id]; !ok {
			delete(s.conversations, id)
			delete(s.messages, id)
			delete(s.lastPreview, id)
			delete(s.unread, id)
		}
	}
}

// SetMessages replaces a conversation's message list and refreshes the
// last-message preview used by search.
func (s *Store) SetMessages(id uuid.UUID, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[id] = append([]models.Message(nil), msgs...)
	if len(msgs) > 0 {
		s.lastPreview[id] = msgs[len(msgs)-1].Content
	} else {
		delete(s.lastPreview, id)
	}
}

// Upsert inserts or overwrites a conversation with an authoritative copy.
func (s *Store) Upsert(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = &conv
}

// ─── Accessors ──────────────────────────────────────────────────────────────

func (s *Store) Conversation(id uuid.UUID) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	return *conv, true
}

func (s *Store) Messages(id uuid.UUID) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages[id]...)
}

func (s *Store) Unread(id uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[id]
}

// SetActive marks the conversation currently being viewed and clears its
// unread counter.
func (s *Store) SetActive(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
	delete(s.unread, id)
}

func (s *Store) ActiveID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetFilter updates the UI filter state used by FilteredConversations.
func (s *Store) SetFilter(search string, tab Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = search
	s.tab = tab
}

// ─── Optimistic mutation ────────────────────────────────────────────────────

// BeginMutation applies value to the field immediately and records the
// pre-mutation value under a fresh sequence number. The returned sequence
// must be handed to Confirm or Rollback with the remote response.
func (s *Store) BeginMutation(id uuid.UUID, field string, value interface{}) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return 0, false
	}

	key := pendingKey{id: id, field: field}
	s.seq[key]++
	seq := s.seq[key]
	s.pending[key] = &pendingMutation{previous: fieldValue(conv, field), seq: seq}
	setField(conv, field, value)
	return seq, true
}

// Confirm overwrites the field with the server's authoritative copy. The
// server may have normalized the value (e.g. trimmed a title), so the
// response wins over the optimistic guess. Responses older than the highest
// issued sequence for the field are discarded.
func (s *Store) Confirm(id uuid.UUID, field string, seq uint64, authoritative models.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey{id: id, field: field}
	if seq < s.seq[key] {
		return false // a newer mutation owns this field
	}

	conv, ok := s.conversations[id]
	if !ok {
		return false
	}
	setField(conv, field, fieldValue(&authoritative, field))
	conv.UpdatedAt = authoritative.UpdatedAt
	delete(s.pending, key)
	return true
}

// Rollback reverts the field to its pre-mutation value after a remote
// failure. Like Confirm, it ignores stale sequences.
func (s *Store) Rollback(id uuid.UUID, field string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey{id: id, field: field}
	pm, ok := s.pending[key]
	if !ok || seq < s.seq[key] {
		return false
	}

	conv, exists := s.conversations[id]
	if !exists {
		return false
	}
	setField(conv, field, pm.previous)
	delete(s.pending, key)
	return true
}

func fieldValue(conv *models.Conversation, field string) interface{} {
	switch field {
	case FieldTitle:
		return conv.Title
	case FieldStarred:
		return conv.IsStarred
	case FieldArchived:
		return conv.IsArchived
	case FieldTags:
		return append([]string(nil), conv.Tags...)
	case FieldCategory:
		return conv.Category
	}
	return nil
}

func setField(conv *models.Conversation, field string, value interface{}) {
	switch field {
	case FieldTitle:
		conv.Title, _ = value.(string)
	case FieldStarred:
		conv.IsStarred, _ = value.(bool)
	case FieldArchived:
		conv.IsArchived, _ = value.(bool)
	case FieldTags:
		tags, _ := value.([]string)
		conv.Tags = append([]string(nil), tags...)
	case FieldCategory:
		conv.Category, _ = value.(string)
	}
}

// ─── Messages ───────────────────────────────────────────────────────────────

// AddMessage appends to the local message list and updates the parent's
// last-message pointer. Assistant messages for a conversation that is not
// currently active bump the unread counter; the user's own messages and the
// active conversation never do.
func (s *Store) AddMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := msg.ConversationID
	s.messages[id] = append(s.messages[id], msg)
	s.lastPreview[id] = msg.Content

	if conv, ok := s.conversations[id]; ok {
		created := msg.CreatedAt
		conv.LastMessageAt = &created
		if created.After(conv.UpdatedAt) {
			conv.UpdatedAt = created
		}
	}

	if msg.Role == models.RoleAssistant && id != s.activeID {
		s.unread[id]++
	}
}

// RemoveMessage drops a message by id, e.g. when rolling back an optimistic
// append. Returns whether anything was removed.
func (s *Store) RemoveMessage(conversationID, messageID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	for i, m := range msgs {
		if m.ID == messageID {
			s.messages[conversationID] = append(msgs[:i:i], msgs[i+1:]...)
			if n := len(s.messages[conversationID]); n > 0 {
				s.lastPreview[conversationID] = s.messages[conversationID][n-1].Content
			} else {
				delete(s.lastPreview, conversationID)
			}
			return true
		}
	}
	return false
}

// ─── Deletion ───────────────────────────────────────────────────────────────

// Snapshot captures everything needed to restore a conversation after a
// failed optimistic delete.
type Snapshot struct {
	Conversation models.Conversation
	Messages     []models.Message
	Unread       int
}

// Remove deletes the conversation and its local message list, returning a
// snapshot for potential restore.
func (s *Store) Remove(id uuid.UUID) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{
		Conversation: *conv,
		Messages:     append([]models.Message(nil), s.messages[id]...),
		Unread:       s.unread[id],
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.lastPreview, id)
	delete(s.unread, id)
	return snap, true
}

// Restore puts a removed conversation back. Sorting is by updated timestamp,
// so the restored entry lands at its last known position in the derived view.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := snap.Conversation
	s.conversations[conv.ID] = &conv
	s.messages[conv.ID] = append([]models.Message(nil), snap.Messages...)
	if n := len(snap.Messages); n > 0 {
		s.lastPreview[conv.ID] = snap.Messages[n-1].Content
	}
	if snap.Unread > 0 {
		s.unread[conv.ID] = snap.Unread
	}
}

// ─── Derived view ───────────────────────────────────────────────────────────

// FilteredConversations applies the active tab and search text and returns
// conversations sorted by updated timestamp descending. Archived
// conversations are excluded from the "all" tab. The result is deterministic:
// ties sort by id, never by map iteration order.
func (s *Store) FilteredConversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(s.search))

	out := make([]models.Conversation, 0, len(s.conversations))
	for id, conv := range s.conversations {
		switch s.tab {
		case TabArchived:
			if !conv.IsArchived {
				continue
			}
		case TabStarred:
			if !conv.IsStarred {
				continue
			}
		default:
			if conv.IsArchived {
				continue
			}
		}

		if needle != "" && !s.matches(id, conv, needle) {
			continue
		}
		out = append(out, *conv)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// matches checks title, last-message preview and tags, case-insensitively.
func (s *Store) matches(id uuid.UUID, conv *models.Conversation, needle string) bool {
	if strings.Contains(strings.ToLower(conv.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(s.lastPreview[id]), needle) {
		return true
	}
	for _, tag := range conv.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
