package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TagStore implements ports.TagStore in memory.
type TagStore struct {
	mu       sync.Mutex
	tags     map[string]string          // companyID + "\x00" + lower(name) -> tagID
	names    map[string]string          // tagID -> name
	contacts map[string]map[string]bool // contactID -> tagIDs
}

// NewTagStore creates an empty tag store.
func NewTagStore() *TagStore {
	return &TagStore{
		tags:     make(map[string]string),
		names:    make(map[string]string),
		contacts: make(map[string]map[string]bool),
	}
}

// EnsureTag returns the tag ID for name, creating it on first use.
// Names are matched case-insensitively per company.
func (s *TagStore) EnsureTag(_ context.Context, companyID, name string) (string, error) {
	key := companyID + "\x00" + strings.ToLower(strings.TrimSpace(name))

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.tags[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.tags[key] = id
	s.names[id] = name
	return id, nil
}

// Associate links a tag to a contact. Repeating it is harmless.
func (s *TagStore) Associate(_ context.Context, contactID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.contacts[contactID]
	if !ok {
		set = make(map[string]bool)
		s.contacts[contactID] = set
	}
	set[tagID] = true
	return nil
}

// ContactTags returns the tag names of a contact, sorted.
func (s *TagStore) ContactTags(contactID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.contacts[contactID]))
	for id := range s.contacts[contactID] {
		names = append(names, s.names[id])
	}
	sort.Strings(names)
	return names
}

// ConversationStore implements ports.ConversationStore in memory.
type ConversationStore struct {
	mu      sync.Mutex
	flagged map[string]int
}

// NewConversationStore creates an empty conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{flagged: make(map[string]int)}
}

// FlagNeedsAttention records the handoff.
func (s *ConversationStore) FlagNeedsAttention(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flagged[conversationID]++
	return nil
}

// Flags returns how many times a conversation was flagged.
func (s *ConversationStore) Flags(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flagged[conversationID]
}
