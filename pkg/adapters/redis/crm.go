package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// TagStore implements ports.TagStore on Redis hashes and sets.
type TagStore struct {
	client *backend.Client
	prefix string
}

// NewTagStore creates a tag store sharing client.
func NewTagStore(client *backend.Client, prefix string) *TagStore {
	return &TagStore{client: client, prefix: prefix}
}

// EnsureTag returns the ID of the company tag called name, creating it when
// missing. Names are matched case-insensitively.
func (s *TagStore) EnsureTag(ctx context.Context, companyID, name string) (string, error) {
	key := s.prefix + "tags:" + companyID
	field := strings.ToLower(strings.TrimSpace(name))

	// HSETNX keeps the first writer's ID when two turns race.
	if err := s.client.HSetNX(ctx, key, field, uuid.NewString()).Err(); err != nil {
		return "", fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	id, err := s.client.HGet(ctx, key, field).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read tag %q: %w", name, err)
	}
	return id, nil
}

// Associate adds the tag to the contact. Repeating it is harmless.
func (s *TagStore) Associate(ctx context.Context, contactID, tagID string) error {
	if err := s.client.SAdd(ctx, s.prefix+"contact:"+contactID+":tags", tagID).Err(); err != nil {
		return fmt.Errorf("failed to tag contact %s: %w", contactID, err)
	}
	return nil
}

// ContactTags returns the tag IDs associated with a contact.
func (s *TagStore) ContactTags(ctx context.Context, contactID string) ([]string, error) {
	return s.client.SMembers(ctx, s.prefix+"contact:"+contactID+":tags").Result()
}

// ConversationStore implements ports.ConversationStore with a Redis set of
// conversations awaiting a human.
type ConversationStore struct {
	client *backend.Client
	prefix string
}

// NewConversationStore creates a conversation store sharing client.
func NewConversationStore(client *backend.Client, prefix string) *ConversationStore {
	return &ConversationStore{client: client, prefix: prefix}
}

func (s *ConversationStore) key() string {
	return s.prefix + "conversations:attention"
}

// FlagNeedsAttention marks the conversation for human follow-up.
func (s *ConversationStore) FlagNeedsAttention(ctx context.Context, conversationID string) error {
	if err := s.client.SAdd(ctx, s.key(), conversationID).Err(); err != nil {
		return fmt.Errorf("failed to flag conversation %s: %w", conversationID, err)
	}
	return nil
}

// NeedsAttention reports whether the conversation has been flagged.
func (s *ConversationStore) NeedsAttention(ctx context.Context, conversationID string) (bool, error) {
	return s.client.SIsMember(ctx, s.key(), conversationID).Result()
}
