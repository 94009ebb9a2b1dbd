// Package hooks evaluates the automated-response rules that may follow a
// contact's message: out-of-office, greeting and email collection.
package hooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/crewdesk/crewdesk/internal/i18n"
	"github.com/crewdesk/crewdesk/internal/message"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

type Service struct {
	log      *slog.Logger
	store    store.Store
	messages *message.Service
	catalog  *i18n.Catalog
	now      func() time.Time
}

func NewService(log *slog.Logger, st store.Store, messages *message.Service, catalog *i18n.Catalog) *Service {
	return &Service{
		log:      log.With(slog.String("service", "hooks")),
		store:    st,
		messages: messages,
		catalog:  catalog,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Run evaluates the rules for a just-created message, in order, triggering
// at most one template message per rule. Inboxes with an active bot are
// skipped entirely; only contact-originated messages are considered. The
// messages created here carry the skip-hooks flag, so they cannot re-enter
// this evaluation.
func (s *Service) Run(ctx context.Context, conv models.Conversation, msg models.Message) {
	if !msg.Incoming() {
		return
	}
	inbox, err := s.store.GetInbox(ctx, conv.InboxID)
	if err != nil {
		s.log.Error("load inbox", slog.String("inbox_id", conv.InboxID), slog.Any("error", err))
		return
	}
	if inbox.BotActive {
		return
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		s.log.Error("load history", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return
	}

	if s.shouldSendOutOfOffice(inbox, history) {
		s.send(ctx, conv, inbox.OutOfOfficeMessage, models.ContentTypeText)
	}
	if s.shouldSendGreeting(inbox, history) {
		s.send(ctx, conv, inbox.GreetingMessage, models.ContentTypeText)
	}
	if s.shouldCollectEmail(ctx, conv, inbox, history) {
		s.send(ctx, conv, s.catalog.T("templates.email_collect"), models.ContentTypeInputEmail)
	}
}

// shouldSendOutOfOffice fires when the inbox is outside business hours, has
// an out-of-office text configured, and no out-of-office template has gone
// out today.
func (s *Service) shouldSendOutOfOffice(inbox models.Inbox, history []models.Message) bool {
	if inbox.OutOfOfficeMessage == "" {
		return false
	}
	now := s.now()
	if inbox.BusinessHours.Covers(now) {
		return false
	}
	today := now.UTC().Truncate(24 * time.Hour)
	for _, msg := range history {
		if msg.Type == models.MessageTypeTemplate &&
			msg.Content == inbox.OutOfOfficeMessage &&
			!msg.CreatedAt.UTC().Before(today) {
			return false
		}
	}
	return true
}

// shouldSendGreeting fires on the first contact-originated exchange: a
// configured, enabled greeting and no outgoing or template message yet.
func (s *Service) shouldSendGreeting(inbox models.Inbox, history []models.Message) bool {
	if !inbox.GreetingEnabled || inbox.GreetingMessage == "" {
		return false
	}
	for _, msg := range history {
		if msg.Type == models.MessageTypeOutgoing || msg.Type == models.MessageTypeTemplate {
			return false
		}
	}
	return true
}

// shouldCollectEmail fires on web-widget inboxes when the contact has no
// email on file and no collection prompt was sent before.
func (s *Service) shouldCollectEmail(ctx context.Context, conv models.Conversation, inbox models.Inbox, history []models.Message) bool {
	if !inbox.EmailCollectEnabled || inbox.ChannelType != models.ChannelTypeWebWidget {
		return false
	}
	contact, err := s.store.GetContact(ctx, conv.AccountID, conv.ContactID)
	if err != nil {
		s.log.Error("load contact", slog.String("contact_id", conv.ContactID), slog.Any("error", err))
		return false
	}
	if contact.Email != "" {
		return false
	}
	for _, msg := range history {
		if msg.ContentType == models.ContentTypeInputEmail {
			return false
		}
	}
	return true
}

func (s *Service) send(ctx context.Context, conv models.Conversation, content, contentType string) {
	_, err := s.messages.Create(ctx, message.CreateParams{
		AccountID:      conv.AccountID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeTemplate,
		Content:        content,
		ContentType:    contentType,
		Sender:         models.SystemSender(),
		SkipHooks:      true,
	})
	if err != nil {
		s.log.Error("template message failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err))
	}
}
