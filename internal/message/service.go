// Package message implements the message creation pipeline, the single
// mutation point that drives most conversation-level side effects.
package message

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewdesk/crewdesk/internal/conversation"
	"github.com/crewdesk/crewdesk/internal/event"
	"github.com/crewdesk/crewdesk/internal/jobs"
	"github.com/crewdesk/crewdesk/internal/kvstore"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

// digestDelay coalesces bursts of outgoing messages into roughly one email
// every two minutes.
const digestDelay = 2 * time.Minute

// TemplateHook evaluates automated-response rules for a just-created
// message. Implemented by the hooks package; wired after construction to
// keep the dependency one-directional.
type TemplateHook interface {
	Run(ctx context.Context, conv models.Conversation, msg models.Message)
}

type Service struct {
	log           *slog.Logger
	store         store.Store
	kv            kvstore.Store
	hub           *event.Hub
	queue         jobs.Queue
	conversations *conversation.Service
	hook          TemplateHook
	now           func() time.Time
}

func NewService(log *slog.Logger, st store.Store, kv kvstore.Store, hub *event.Hub, queue jobs.Queue, convs *conversation.Service) *Service {
	return &Service{
		log:           log.With(slog.String("service", "message")),
		store:         st,
		kv:            kv,
		hub:           hub,
		queue:         queue,
		conversations: convs,
		now:           time.Now,
	}
}

// SetTemplateHook wires the automated-response evaluator. Optional; without
// it no template messages are generated.
func (s *Service) SetTemplateHook(hook TemplateHook) { s.hook = hook }

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateParams describes a new message.
type CreateParams struct {
	AccountID      string
	ConversationID string

	Type        string
	Content     string
	ContentType string
	Private     bool

	Sender      models.Sender
	Attachments []models.Attachment

	// SkipHooks suppresses template-hook evaluation. Set on messages the
	// hook service itself creates so a template reply cannot trigger more
	// template replies.
	SkipHooks bool
}

// Create validates and persists the message, then runs the post-create
// pipeline: activity-timestamp touch, event dispatch, conditional reopen,
// digest scheduling and template-hook evaluation. Side-effect failures are
// logged, never propagated; the persisted message is the primary outcome.
func (s *Service) Create(ctx context.Context, p CreateParams) (models.Message, error) {
	if err := s.validate(p); err != nil {
		return models.Message{}, err
	}
	conv, err := s.store.GetConversation(ctx, p.AccountID, p.ConversationID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load conversation: %w", err)
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = models.ContentTypeText
	}
	msg := models.Message{
		AccountID:      p.AccountID,
		InboxID:        conv.InboxID,
		ConversationID: conv.ID,
		Type:           p.Type,
		Content:        p.Content,
		ContentType:    contentType,
		Status:         models.MessageStatusSent,
		Private:        p.Private,
		SenderType:     p.Sender.Type,
		SenderID:       p.Sender.ID,
		SenderName:     p.Sender.Name,
		Attachments:    append([]models.Attachment(nil), p.Attachments...),
		SkipHooks:      p.SkipHooks,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, &msg); err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}

	s.afterCreate(ctx, conv, msg)
	return msg, nil
}

func (s *Service) validate(p CreateParams) error {
	verr := models.NewValidationError()
	if p.AccountID == "" {
		verr.Add("account_id", "is required")
	}
	if p.ConversationID == "" {
		verr.Add("conversation_id", "is required")
	}
	switch p.Type {
	case models.MessageTypeIncoming, models.MessageTypeOutgoing,
		models.MessageTypeActivity, models.MessageTypeTemplate:
	case "":
		verr.Add("type", "is required")
	default:
		verr.Add("type", "is not a recognized message type")
	}
	if len(p.Attachments) > models.MaxAttachmentsPerMessage {
		verr.Add("attachments", fmt.Sprintf("cannot attach more than %d files", models.MaxAttachmentsPerMessage))
	}
	if !verr.Empty() {
		return verr
	}
	return nil
}

// afterCreate runs the post-persist pipeline in its fixed order.
func (s *Service) afterCreate(ctx context.Context, conv models.Conversation, msg models.Message) {
	if err := s.conversations.TouchActivity(ctx, conv, msg.CreatedAt); err != nil {
		s.log.Error("touch activity failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err))
	}

	s.hub.Dispatch(event.MessageCreated, msg.CreatedAt, msg.PushPayload())
	s.dispatchFirstReply(ctx, msg)
	s.maybeReopen(ctx, conv, msg)
	s.maybeScheduleDigest(ctx, conv, msg)

	if s.hook != nil && !msg.SkipHooks {
		s.hook.Run(ctx, conv, msg)
	}
}

// dispatchFirstReply emits first.reply.created exactly once per
// conversation, detected by the outgoing count being exactly one at
// dispatch time.
func (s *Service) dispatchFirstReply(ctx context.Context, msg models.Message) {
	if !msg.Outgoing() || msg.Private {
		return
	}
	count, err := s.store.CountMessagesByType(ctx, msg.ConversationID, models.MessageTypeOutgoing)
	if err != nil {
		s.log.Error("count outgoing failed",
			slog.String("conversation_id", msg.ConversationID),
			slog.Any("error", err))
		return
	}
	if count == 1 {
		s.hub.Dispatch(event.FirstReplyCreated, msg.CreatedAt, msg.PushPayload())
	}
}

// maybeReopen moves a resolved conversation back to open when the contact
// writes in, unless the conversation is muted.
func (s *Service) maybeReopen(ctx context.Context, conv models.Conversation, msg models.Message) {
	if !msg.Incoming() || conv.Status != models.ConversationStatusResolved {
		return
	}
	if s.conversations.IsMuted(ctx, conv.ID) {
		return
	}
	if _, err := s.conversations.Reopen(ctx, conv.AccountID, conv.ID, models.SystemSender()); err != nil {
		s.log.Error("reopen failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err))
	}
}

// maybeScheduleDigest defers a digest mail for outgoing public replies on
// email-capable channels. The pending key coalesces bursts into one job.
func (s *Service) maybeScheduleDigest(ctx context.Context, conv models.Conversation, msg models.Message) {
	if !msg.Outgoing() || msg.Private {
		return
	}
	inbox, err := s.store.GetInbox(ctx, conv.InboxID)
	if err != nil {
		s.log.Error("load inbox for digest",
			slog.String("inbox_id", conv.InboxID),
			slog.Any("error", err))
		return
	}
	if !inbox.EmailCapable() {
		return
	}
	contact, err := s.store.GetContact(ctx, conv.AccountID, conv.ContactID)
	if err != nil {
		s.log.Error("load contact for digest",
			slog.String("contact_id", conv.ContactID),
			slog.Any("error", err))
		return
	}
	if contact.Email == "" {
		return
	}
	if !s.kv.SetNX(ctx, kvstore.DigestPendingKey(conv.ID), "1", digestDelay) {
		return
	}
	s.queue.Enqueue(ctx, jobs.TypeDigestEmail, digestDelay, map[string]string{
		"account_id":      conv.AccountID,
		"conversation_id": conv.ID,
	})
}

// UpdateStatus advances a message's delivery status and dispatches the
// update event. The only mutation permitted after creation.
func (s *Service) UpdateStatus(ctx context.Context, accountID, id, status string) (models.Message, error) {
	switch status {
	case models.MessageStatusSent, models.MessageStatusDelivered,
		models.MessageStatusRead, models.MessageStatusFailed:
	default:
		return models.Message{}, models.NewValidationError().Add("status", "is not a recognized delivery status")
	}
	msg, err := s.store.GetMessage(ctx, accountID, id)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.store.UpdateMessageStatus(ctx, msg.ID, status); err != nil {
		return models.Message{}, fmt.Errorf("update status: %w", err)
	}
	msg.Status = status
	s.hub.Dispatch(event.MessageUpdated, s.now().UTC(), msg.PushPayload())
	return msg, nil
}

// List returns the conversation's messages in creation order.
func (s *Service) List(ctx context.Context, accountID, conversationID string) ([]models.Message, error) {
	if _, err := s.store.GetConversation(ctx, accountID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}
