package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kha1dx/clarityai/internal/models"
)

// Controller is the synchronization layer between the store and the remote
// lifecycle service. The pattern for every field mutation is the same:
// apply locally first, issue the remote call, then either confirm with the
// server's authoritative copy or roll back to the pre-mutation value. The
// store's sequence numbers make sure a late response from a superseded
// request can't clobber a fresher optimistic state.
type Controller struct {
	store  *Store
	remote Remote
}

func NewController(store *Store, remote Remote) *Controller {
	return &Controller{store: store, remote: remote}
}

func (c *Controller) Store() *Store {
	return c.store
}

// Load populates the store from the server: the conversation list plus each
// conversation's messages.
func (c *Controller) Load(ctx context.Context) error {
	convs, err := c.remote.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	c.store.Load(convs)

	for _, conv := range convs {
		_, msgs, err := c.remote.GetConversation(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("load messages for %s: %w", conv.ID, err)
		}
		c.store.SetMessages(conv.ID, msgs)
	}
	return nil
}

// Create is remote-first: there is no meaningful optimistic state before the
// server has assigned an id.
func (c *Controller) Create(ctx context.Context, title, category string) (*models.Conversation, error) {
	conv, err := c.remote.CreateConversation(ctx, title, category)
	if err != nil {
		return nil, err
	}
	c.store.Upsert(*conv)
	c.store.SetMessages(conv.ID, nil)
	return conv, nil
}

// ─── Field mutations ────────────────────────────────────────────────────────

func (c *Controller) Rename(ctx context.Context, id uuid.UUID, title string) error {
	return c.mutate(id, FieldTitle, title, func() (*models.Conversation, error) {
		return c.remote.Rename(ctx, id, title)
	})
}

func (c *Controller) SetStarred(ctx context.Context, id uuid.UUID, starred bool) error {
	return c.mutate(id, FieldStarred, starred, func() (*models.Conversation, error) {
		return c.remote.SetStarred(ctx, id, starred)
	})
}

func (c *Controller) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	return c.mutate(id, FieldArchived, archived, func() (*models.Conversation, error) {
		return c.remote.SetArchived(ctx, id, archived)
	})
}

func (c *Controller) SetTags(ctx context.Context, id uuid.UUID, tags []string) error {
	return c.mutate(id, FieldTags, tags, func() (*models.Conversation, error) {
		return c.remote.SetTags(ctx, id, tags)
	})
}

// mutate applies the value locally, issues the remote call, then either
// adopts the server's copy of the field or restores the saved value.
func (c *Controller) mutate(id uuid.UUID, field string, value interface{}, call func() (*models.Conversation, error)) error {
	seq, ok := c.store.BeginMutation(id, field, value)
	if !ok {
		return fmt.Errorf("conversation %s not in local state", id)
	}

	authoritative, err := call()
	if err != nil {
		c.store.Rollback(id, field, seq)
		return err
	}
	c.store.Confirm(id, field, seq, *authoritative)
	return nil
}

// ─── Deletion ───────────────────────────────────────────────────────────────

// Delete removes the conversation and its message list locally, then calls
// the server. On failure both are restored from the snapshot. A NotFound
// from a concurrent duplicate delete counts as success: the row is gone
// either way.
func (c *Controller) Delete(ctx context.Context, id uuid.UUID) error {
	snap, ok := c.store.Remove(id)
	if !ok {
		return fmt.Errorf("conversation %s not in local state", id)
	}

	if err := c.remote.DeleteConversation(ctx, id); err != nil {
		if re, isRemote := err.(*RemoteError); isRemote && re.Code == "NOT_FOUND" {
			return nil
		}
		c.store.Restore(snap)
		return err
	}
	return nil
}

// ─── Messages ───────────────────────────────────────────────────────────────

// SendMessage appends the user's turn optimistically under a temporary id,
// then reconciles with the server's persisted copies. The assistant turn is
// added through AddMessage so the unread rules apply.
func (c *Controller) SendMessage(ctx context.Context, id uuid.UUID, text string) (*ChatResult, error) {
	temp := models.Message{
		ID:             uuid.New(),
		ConversationID: id,
		Role:           models.RoleUser,
		Content:        text,
		CreatedAt:      time.Now(),
	}
	c.store.AddMessage(temp)

	result, err := c.remote.SendMessage(ctx, id, text)
	if err != nil {
		c.store.RemoveMessage(id, temp.ID)
		return nil, err
	}

	// Swap the temporary turn for the server's copy, then append the reply.
	c.store.RemoveMessage(id, temp.ID)
	c.store.AddMessage(result.UserMessage)
	c.store.AddMessage(result.AssistantMessage)
	c.store.Upsert(result.Conversation)
	return result, nil
}

// ─── Event feed ─────────────────────────────────────────────────────────────

// EventPayload mirrors the server's websocket event frame.
type EventPayload struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ApplyConversationEvent reconciles the store with a pushed change for a
// conversation this client did not mutate itself.
func (c *Controller) ApplyConversationEvent(ctx context.Context, evt EventPayload) error {
	id, err := uuid.Parse(evt.ConversationID)
	if err != nil {
		return fmt.Errorf("event conversation id: %w", err)
	}

	switch evt.Type {
	case "conversation.deleted":
		c.store.Remove(id)
		return nil
	case "conversation.created", "conversation.updated":
		conv, msgs, err := c.remote.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		c.store.Upsert(*conv)
		c.store.SetMessages(id, msgs)
		return nil
	case "message.created":
		conv, msgs, err := c.remote.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		c.store.Upsert(*conv)

		// Only genuinely new rows go through AddMessage, so the unread
		// counter follows the same rules as locally appended messages.
		known := make(map[uuid.UUID]struct{})
		for _, m := range c.store.Messages(id) {
			known[m.ID] = struct{}{}
		}
		for _, m := range msgs {
			if _, ok := known[m.ID]; !ok {
				c.store.AddMessage(m)
			}
		}
		return nil
	default:
		return nil
	}
}
