// Package models defines the core data types shared across the runtime:
// message records, conversation keys, user profiles, and tool descriptors.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageClass distinguishes the two conversation keyspaces.
type MessageClass string

const (
	ClassGroup   MessageClass = "group"
	ClassPrivate MessageClass = "private"
)

// ConversationKey identifies a memory partition: a group id for group
// conversations, a user id for private ones. The two classes are disjoint
// keyspaces even when the numeric ids collide.
type ConversationKey struct {
	Class MessageClass
	ID    int64
}

// GroupKey returns the conversation key for a group chat.
func GroupKey(groupID int64) ConversationKey {
	return ConversationKey{Class: ClassGroup, ID: groupID}
}

// PrivateKey returns the conversation key for a private chat.
func PrivateKey(userID int64) ConversationKey {
	return ConversationKey{Class: ClassPrivate, ID: userID}
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%s:%d", k.Class, k.ID)
}

// MessageRecord is an immutable inbound chat message. Identity is ID, unique
// within a conversation key.
type MessageRecord struct {
	ID        int64
	Key       ConversationKey
	SenderID  int64
	MentionID int64 // 0 when nobody is mentioned
	Content   string
	FromBot   bool
	SentAt    time.Time
}

// SenderLabel returns the short sender tag attached to user turns, the first
// six digits of the sender id.
func (m *MessageRecord) SenderLabel() string {
	s := fmt.Sprintf("%d", m.SenderID)
	if len(s) > 6 {
		return s[:6]
	}
	return s
}

// ToolDescriptor describes an invocable tool advertised to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      json.RawMessage
}
