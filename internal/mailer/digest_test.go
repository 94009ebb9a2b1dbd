package mailer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/crewdesk/internal/i18n"
	"github.com/crewdesk/crewdesk/internal/kvstore"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

type capturingMailer struct {
	sent []Email
}

func (c *capturingMailer) Send(_ context.Context, email Email) error {
	c.sent = append(c.sent, email)
	return nil
}

type fixture struct {
	svc     *DigestService
	st      *store.Memory
	kv      *kvstore.Memory
	mailer  *capturingMailer
	account models.Account
	inbox   models.Inbox
	contact models.Contact
	conv    models.Conversation
}

func newFixture(t *testing.T, mutate func(*models.Inbox, *models.Contact)) *fixture {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemory()
	kv := kvstore.NewMemory()
	catalog, err := i18n.Load()
	require.NoError(t, err)

	f := &fixture{st: st, kv: kv, mailer: &capturingMailer{}}
	f.account = models.Account{Name: "acme"}
	require.NoError(t, st.CreateAccount(ctx, &f.account))
	f.inbox = models.Inbox{AccountID: f.account.ID, Name: "support", ChannelType: models.ChannelTypeWebWidget}
	f.contact = models.Contact{AccountID: f.account.ID, Name: "Pat", Email: "pat@example.test"}
	if mutate != nil {
		mutate(&f.inbox, &f.contact)
	}
	require.NoError(t, st.CreateInbox(ctx, &f.inbox))
	require.NoError(t, st.CreateContact(ctx, &f.contact))

	f.conv = models.Conversation{
		AccountID: f.account.ID,
		InboxID:   f.inbox.ID,
		ContactID: f.contact.ID,
		Status:    models.ConversationStatusOpen,
	}
	require.NoError(t, st.CreateConversation(ctx, &f.conv))

	f.svc = NewDigestService(log, st, kv, f.mailer, catalog)
	return f
}

func (f *fixture) addMessage(t *testing.T, msgType, content string, private bool, at time.Time) {
	t.Helper()
	msg := models.Message{
		AccountID:      f.account.ID,
		ConversationID: f.conv.ID,
		InboxID:        f.inbox.ID,
		Type:           msgType,
		Content:        content,
		Private:        private,
		CreatedAt:      at,
	}
	require.NoError(t, f.st.CreateMessage(context.Background(), &msg))
}

func TestDeliverDigestSendsOutgoingReplies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 11, 10, 0, 0, 0, time.UTC)
	f.svc.SetClock(func() time.Time { return now })

	f.addMessage(t, models.MessageTypeIncoming, "are you there?", false, now.Add(-30*time.Minute))
	f.addMessage(t, models.MessageTypeOutgoing, "yes, looking into it", false, now.Add(-20*time.Minute))
	f.addMessage(t, models.MessageTypeOutgoing, "internal note", true, now.Add(-15*time.Minute))
	f.addMessage(t, models.MessageTypeOutgoing, "fixed, please retry", false, now.Add(-10*time.Minute))

	f.kv.SetEx(ctx, kvstore.DigestPendingKey(f.conv.ID), "1", time.Minute)
	require.NoError(t, f.svc.DeliverDigest(ctx, f.account.ID, f.conv.ID))

	require.Len(t, f.mailer.sent, 1)
	email := f.mailer.sent[0]
	assert.Equal(t, f.contact.Email, email.To)
	assert.Contains(t, email.Body, "yes, looking into it")
	assert.Contains(t, email.Body, "fixed, please retry")
	assert.NotContains(t, email.Body, "internal note")
	assert.NotContains(t, email.Body, "are you there?")

	// The pending flag is consumed and the send window recorded.
	_, pending := f.kv.Get(ctx, kvstore.DigestPendingKey(f.conv.ID))
	assert.False(t, pending)
	raw, ok := f.kv.Get(ctx, kvstore.DigestLastSentKey(f.conv.ID))
	require.True(t, ok)
	assert.Equal(t, now.Format(time.RFC3339), raw)
}

func TestDeliverDigestSkipsContactWithoutEmail(t *testing.T) {
	f := newFixture(t, func(_ *models.Inbox, contact *models.Contact) {
		contact.Email = ""
	})
	ctx := context.Background()
	f.addMessage(t, models.MessageTypeOutgoing, "reply", false, time.Now().UTC())

	f.kv.SetEx(ctx, kvstore.DigestPendingKey(f.conv.ID), "1", time.Minute)
	require.NoError(t, f.svc.DeliverDigest(ctx, f.account.ID, f.conv.ID))

	assert.Empty(t, f.mailer.sent)
	_, pending := f.kv.Get(ctx, kvstore.DigestPendingKey(f.conv.ID))
	assert.False(t, pending, "pending flag cleared even when nothing sends")
}

func TestDeliverDigestSkipsNonEmailCapableInbox(t *testing.T) {
	f := newFixture(t, func(inbox *models.Inbox, _ *models.Contact) {
		inbox.ChannelType = models.ChannelTypeAPI
	})
	f.addMessage(t, models.MessageTypeOutgoing, "reply", false, time.Now().UTC())

	require.NoError(t, f.svc.DeliverDigest(context.Background(), f.account.ID, f.conv.ID))
	assert.Empty(t, f.mailer.sent)
}

func TestDeliverDigestNothingNewIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Date(2026, 5, 11, 10, 0, 0, 0, time.UTC)
	f.svc.SetClock(func() time.Time { return now })

	f.addMessage(t, models.MessageTypeIncoming, "hello", false, now.Add(-5*time.Minute))

	require.NoError(t, f.svc.DeliverDigest(context.Background(), f.account.ID, f.conv.ID))
	assert.Empty(t, f.mailer.sent)
	_, ok := f.kv.Get(context.Background(), kvstore.DigestLastSentKey(f.conv.ID))
	assert.False(t, ok, "send window only recorded after an actual delivery")
}

func TestDeliverDigestResumesFromLastSend(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := time.Date(2026, 5, 11, 10, 0, 0, 0, time.UTC)
	f.svc.SetClock(func() time.Time { return first })

	f.addMessage(t, models.MessageTypeOutgoing, "first reply", false, first.Add(-10*time.Minute))
	require.NoError(t, f.svc.DeliverDigest(ctx, f.account.ID, f.conv.ID))
	require.Len(t, f.mailer.sent, 1)

	second := first.Add(3 * time.Hour)
	f.svc.SetClock(func() time.Time { return second })
	f.addMessage(t, models.MessageTypeOutgoing, "second reply", false, second.Add(-5*time.Minute))

	require.NoError(t, f.svc.DeliverDigest(ctx, f.account.ID, f.conv.ID))
	require.Len(t, f.mailer.sent, 2)
	assert.Contains(t, f.mailer.sent[1].Body, "second reply")
	assert.NotContains(t, f.mailer.sent[1].Body, "first reply")
}

func TestDeliverDigestUnknownConversation(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.DeliverDigest(context.Background(), f.account.ID, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
