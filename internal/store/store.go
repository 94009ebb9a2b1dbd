// Package store defines the record-store contract the core consumes, with a
// Postgres implementation for production and an in-memory implementation for
// tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/crewdesk/crewdesk/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// ConversationFilter narrows conversation queries. All provided dimensions
// combine as a logical AND.
type ConversationFilter struct {
	AccountID string
	// InboxIDs restricts to the given inboxes. A nil slice applies no inbox
	// restriction; an empty non-nil slice matches nothing.
	InboxIDs []string
	Status   string
	// AssigneeID restricts to one assignee; Unassigned restricts to a null
	// assignee. The two are mutually exclusive.
	AssigneeID string
	Unassigned bool
	TeamID     string
	// Labels matches conversations tagged with ANY of the given labels.
	Labels []string
	Limit  int
	Offset int
}

// ConversationStore owns conversation records. Results from List are ordered
// most-recently-active first.
type ConversationStore interface {
	// CreateConversation persists the conversation, assigning its id and the
	// next per-account display id. Safe under concurrent creates.
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, accountID, id string) (models.Conversation, error)
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	// TouchConversationActivity advances last_activity_at without running the
	// conversation update pipeline.
	TouchConversationActivity(ctx context.Context, id string, at time.Time) error
	ListConversations(ctx context.Context, filter ConversationFilter) ([]models.Conversation, error)
	CountConversations(ctx context.Context, filter ConversationFilter) (int, error)
}

// MessageStore owns message records. List results are ordered by creation
// time ascending.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, accountID, id string) (models.Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	ListMessagesSince(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error)
	CountMessagesByType(ctx context.Context, conversationID, messageType string) (int, error)
	// LastMessageOfType returns the newest message of the given type, or
	// ErrNotFound when the conversation has none.
	LastMessageOfType(ctx context.Context, conversationID, messageType string) (models.Message, error)
}

// InboxStore owns inbox configuration and membership. Members list in
// membership-id order, the ordering the round-robin rotation depends on.
type InboxStore interface {
	CreateInbox(ctx context.Context, inbox *models.Inbox) error
	GetInbox(ctx context.Context, id string) (models.Inbox, error)
	ListInboxes(ctx context.Context, accountID string) ([]models.Inbox, error)
	AddInboxMember(ctx context.Context, inboxID, agentID string) (models.InboxMember, error)
	ListInboxMembers(ctx context.Context, inboxID string) ([]models.InboxMember, error)
	ListAgentInboxIDs(ctx context.Context, agentID string) ([]string, error)
}

// AgentStore owns agent records. Emails are unique across the installation.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	GetAgentByEmail(ctx context.Context, email string) (models.Agent, error)
	ListAgents(ctx context.Context, accountID string) ([]models.Agent, error)
}

// AccountStore owns account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	CountAccounts(ctx context.Context) (int, error)
}

// ContactStore owns contact records.
type ContactStore interface {
	CreateContact(ctx context.Context, contact *models.Contact) error
	GetContact(ctx context.Context, accountID, id string) (models.Contact, error)
	UpdateContact(ctx context.Context, contact *models.Contact) error
}

// Store bundles all record collections plus transactional execution.
type Store interface {
	ConversationStore
	MessageStore
	InboxStore
	AgentStore
	AccountStore
	ContactStore

	// Tx runs fn against a transactional view of the store; either every
	// write inside fn commits or none do.
	Tx(ctx context.Context, fn func(Store) error) error
}
