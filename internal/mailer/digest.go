package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crewdesk/crewdesk/internal/i18n"
	"github.com/crewdesk/crewdesk/internal/kvstore"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

// digestWindow is the minimum gap between digest emails per conversation.
const digestWindow = time.Hour

// DigestService emails a contact the outgoing replies that accumulated on a
// conversation while they were away.
type DigestService struct {
	log     *slog.Logger
	store   store.Store
	kv      kvstore.Store
	mailer  Mailer
	catalog *i18n.Catalog
	now     func() time.Time
}

func NewDigestService(log *slog.Logger, st store.Store, kv kvstore.Store, m Mailer, catalog *i18n.Catalog) *DigestService {
	return &DigestService{
		log:     log.With(slog.String("service", "digest")),
		store:   st,
		kv:      kv,
		mailer:  m,
		catalog: catalog,
		now:     time.Now,
	}
}

// DeliverDigest sends pending outgoing replies to the contact. It is safe to
// call repeatedly: the pending flag and the per-conversation send window make
// duplicate deliveries no-ops.
func (s *DigestService) DeliverDigest(ctx context.Context, accountID, conversationID string) error {
	defer s.kv.Delete(ctx, kvstore.DigestPendingKey(conversationID))

	conv, err := s.store.GetConversation(ctx, accountID, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	inbox, err := s.store.GetInbox(ctx, conv.InboxID)
	if err != nil {
		return fmt.Errorf("load inbox: %w", err)
	}
	if !inbox.EmailCapable() {
		return nil
	}
	contact, err := s.store.GetContact(ctx, accountID, conv.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if contact.Email == "" {
		return nil
	}

	lastKey := kvstore.DigestLastSentKey(conversationID)
	since := s.now().Add(-digestWindow)
	if raw, ok := s.kv.Get(ctx, lastKey); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			since = ts
		}
	}

	messages, err := s.store.ListMessagesSince(ctx, conversationID, since)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Type == models.MessageTypeOutgoing && !msg.Private {
			lines = append(lines, msg.Content)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	body := s.catalog.T("mailer.digest.intro") + "\n\n" + strings.Join(lines, "\n\n")
	email := Email{
		To:      contact.Email,
		Subject: s.catalog.T("mailer.digest.subject", conv.DisplayID),
		Body:    body,
	}
	if err := s.mailer.Send(ctx, email); err != nil {
		return fmt.Errorf("deliver digest: %w", err)
	}
	s.kv.SetEx(ctx, lastKey, s.now().UTC().Format(time.RFC3339), 0)
	s.log.Info("digest delivered",
		slog.String("conversation_id", conversationID),
		slog.Int("messages", len(lines)))
	return nil
}

// SetClock overrides the time source. Used by tests.
func (s *DigestService) SetClock(now func() time.Time) { s.now = now }
