// Package models defines the shared domain entities of the platform.
package models

import "time"

// Conversation status constants.
const (
	ConversationStatusOpen     = "open"
	ConversationStatusResolved = "resolved"
	ConversationStatusBot      = "bot"
)

// Message type constants.
const (
	MessageTypeIncoming = "incoming"
	MessageTypeOutgoing = "outgoing"
	MessageTypeActivity = "activity"
	MessageTypeTemplate = "template"
)

// Message delivery status constants.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Message content type constants.
const (
	ContentTypeText       = "text"
	ContentTypeInputEmail = "input_email"
	ContentTypeForm       = "form"
	ContentTypeArticle    = "article"
)

// Sender variant tags.
const (
	SenderTypeAgent   = "agent"
	SenderTypeContact = "contact"
	SenderTypeBot     = "bot"
)

// Inbox channel type constants.
const (
	ChannelTypeWebWidget = "web_widget"
	ChannelTypeEmail     = "email"
	ChannelTypeAPI       = "api"
)

// Agent role constants.
const (
	RoleAdministrator = "administrator"
	RoleAgent         = "agent"
)

// MaxAttachmentsPerMessage caps the attachment list, enforced at validation time.
const MaxAttachmentsPerMessage = 15

// Account is the tenant boundary. Every other entity hangs off an account.
type Account struct {
	ID string `json:"id"`
	Name string `json:"name"`
	// AutoResolveAfter resolves idle open conversations when positive.
	AutoResolveAfter time.Duration `json:"auto_resolve_after,omitempty"`
	WebhookURLs      []string      `json:"webhook_urls,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Agent is an account member who handles conversations.
type Agent struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdministrator reports whether the agent holds the administrator role.
func (a Agent) IsAdministrator() bool { return a.Role == RoleAdministrator }

// Contact is the external party of a conversation.
type Contact struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BusinessHours describes when an inbox is considered staffed. Hours are UTC.
type BusinessHours struct {
	Enabled   bool           `json:"enabled"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
}

// Covers reports whether t falls inside the configured business hours.
// A disabled configuration covers all times.
func (b BusinessHours) Covers(t time.Time) bool {
	if !b.Enabled {
		return true
	}
	t = t.UTC()
	dayOK := len(b.Weekdays) == 0
	for _, d := range b.Weekdays {
		if t.Weekday() == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	return t.Hour() >= b.StartHour && t.Hour() < b.EndHour
}

// Inbox is a configured channel through which conversations arrive.
// Read-only from the core's perspective.
type Inbox struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`

	AutoAssignment    bool `json:"auto_assignment"`
	TrackAvailability bool `json:"track_availability"`

	GreetingEnabled    bool   `json:"greeting_enabled"`
	GreetingMessage    string `json:"greeting_message,omitempty"`
	OutOfOfficeMessage string `json:"out_of_office_message,omitempty"`
	EmailCollectEnabled bool  `json:"email_collect_enabled"`

	BusinessHours BusinessHours `json:"business_hours"`
	// MessagingWindow bounds replies on restricted channels; zero means
	// the channel carries no reply window.
	MessagingWindow time.Duration `json:"messaging_window,omitempty"`

	// BotActive marks an inbox with an active bot; new conversations start
	// in the bot status and template hooks are suppressed.
	BotActive bool `json:"bot_active"`

	CreatedAt time.Time `json:"created_at"`
}

// EmailCapable reports whether outgoing messages on this inbox can be
// forwarded to the contact by email.
func (i Inbox) EmailCapable() bool {
	return i.ChannelType == ChannelTypeEmail || i.ChannelType == ChannelTypeWebWidget
}

// InboxMember links an agent to an inbox. The membership id gives the
// deterministic ordering the round-robin rotation depends on.
type InboxMember struct {
	ID      int64  `json:"id"`
	InboxID string `json:"inbox_id"`
	AgentID string `json:"agent_id"`
}

// Conversation is a thread of messages between a contact and an account's
// agents, with a status and an optional assignee.
type Conversation struct {
	ID        string `json:"id"`
	DisplayID int64  `json:"display_id"`
	AccountID string `json:"account_id"`
	InboxID   string `json:"inbox_id"`
	ContactID string `json:"contact_id"`
	TeamID    string `json:"team_id,omitempty"`

	Status     string   `json:"status"`
	Locked     bool     `json:"locked"`
	AssigneeID string   `json:"assignee_id,omitempty"`
	Labels     []string `json:"labels,omitempty"`

	LastActivityAt    time.Time `json:"last_activity_at"`
	AgentLastSeenAt   time.Time `json:"agent_last_seen_at,omitempty"`
	ContactLastSeenAt time.Time `json:"contact_last_seen_at,omitempty"`

	AdditionalAttributes map[string]any `json:"additional_attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLabel reports whether the conversation carries the given label.
func (c Conversation) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Attachment is a file reference carried by a message.
type Attachment struct {
	ID        string `json:"id"`
	FileType  string `json:"file_type"`
	FileName  string `json:"file_name"`
	DataURL   string `json:"data_url,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Message belongs to exactly one conversation, inbox and account.
// Immutable after creation except for status.
type Message struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	InboxID        string `json:"inbox_id"`
	ConversationID string `json:"conversation_id"`

	Type        string `json:"type"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Status      string `json:"status"`
	Private     bool   `json:"private"`

	SenderType string `json:"sender_type,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// SkipHooks marks messages generated by the template hook service so
	// their creation does not re-enter the hook evaluation.
	SkipHooks bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// Incoming reports whether the message originated from the contact side.
func (m Message) Incoming() bool { return m.Type == MessageTypeIncoming }

// Outgoing reports whether the message is an agent/bot reply.
func (m Message) Outgoing() bool { return m.Type == MessageTypeOutgoing }

// Sender is the resolved polymorphic author of a message.
type Sender struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SystemSender is the actor used for automated state changes.
func SystemSender() Sender { return Sender{Type: SenderTypeBot, Name: "system"} }

// AgentSender builds a sender variant from an agent record.
func AgentSender(a Agent) Sender {
	return Sender{Type: SenderTypeAgent, ID: a.ID, Name: a.Name, Email: a.Email}
}

// ContactSender builds a sender variant from a contact record.
func ContactSender(c Contact) Sender {
	return Sender{Type: SenderTypeContact, ID: c.ID, Name: c.Name, Email: c.Email}
}
