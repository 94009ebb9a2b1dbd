package message

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/crewdesk/internal/conversation"
	"github.com/crewdesk/crewdesk/internal/event"
	"github.com/crewdesk/crewdesk/internal/i18n"
	"github.com/crewdesk/crewdesk/internal/jobs"
	"github.com/crewdesk/crewdesk/internal/kvstore"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/routing"
	"github.com/crewdesk/crewdesk/internal/store"
)

type queuedJob struct {
	jobType string
	delay   time.Duration
	args    map[string]string
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
}

func (q *fakeQueue) Enqueue(_ context.Context, jobType string, delay time.Duration, args map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, queuedJob{jobType: jobType, delay: delay, args: args})
}

func (q *fakeQueue) byType(jobType string) []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var matched []queuedJob
	for _, j := range q.jobs {
		if j.jobType == jobType {
			matched = append(matched, j)
		}
	}
	return matched
}

type fakeHook struct {
	mu    sync.Mutex
	calls []models.Message
}

func (h *fakeHook) Run(_ context.Context, _ models.Conversation, msg models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, msg)
}

func (h *fakeHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type fixture struct {
	svc     *Service
	convs   *conversation.Service
	st      *store.Memory
	kv      *kvstore.Memory
	hub     *event.Hub
	queue   *fakeQueue
	hook    *fakeHook
	account models.Account
	inbox   models.Inbox
	contact models.Contact

	mu     sync.Mutex
	events []string
}

func (f *fixture) countEvents(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.events {
		if n == name {
			count++
		}
	}
	return count
}

func newFixture(t *testing.T, mutate func(*models.Inbox, *models.Contact)) *fixture {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemory()
	kv := kvstore.NewMemory()
	hub := event.NewHub(log)
	queue := &fakeQueue{}
	catalog, err := i18n.Load()
	require.NoError(t, err)

	f := &fixture{st: st, kv: kv, hub: hub, queue: queue, hook: &fakeHook{}}
	hub.Subscribe(func(evt event.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, evt.Name)
	})

	f.account = models.Account{Name: "acme"}
	require.NoError(t, st.CreateAccount(ctx, &f.account))
	f.inbox = models.Inbox{AccountID: f.account.ID, Name: "support", ChannelType: models.ChannelTypeWebWidget}
	f.contact = models.Contact{AccountID: f.account.ID, Name: "Pat", Email: "pat@example.test"}
	if mutate != nil {
		mutate(&f.inbox, &f.contact)
	}
	require.NoError(t, st.CreateInbox(ctx, &f.inbox))
	require.NoError(t, st.CreateContact(ctx, &f.contact))

	rt := routing.NewService(log, st, kv)
	f.convs = conversation.NewService(log, st, kv, hub, queue, rt, catalog)
	f.svc = NewService(log, st, kv, hub, queue, f.convs)
	f.svc.SetTemplateHook(f.hook)
	return f
}

func (f *fixture) createConversation(t *testing.T) models.Conversation {
	t.Helper()
	conv, err := f.convs.Create(context.Background(), conversation.CreateParams{
		AccountID: f.account.ID,
		InboxID:   f.inbox.ID,
		ContactID: f.contact.ID,
	})
	require.NoError(t, err)
	return conv
}

func TestCreateRejectsTooManyAttachments(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.createConversation(t)

	attachments := make([]models.Attachment, models.MaxAttachmentsPerMessage+1)
	_, err := f.svc.Create(context.Background(), CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeIncoming,
		Attachments:    attachments,
	})

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "attachments")
}

func TestCreateRejectsUnknownType(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.createConversation(t)

	_, err := f.svc.Create(context.Background(), CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           "broadcast",
	})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "type")
}

func TestCreateAdvancesConversationActivity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	f.svc.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	msg, err := f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeIncoming,
		Content:        "hello",
		Sender:         models.ContactSender(f.contact),
	})
	require.NoError(t, err)

	updated, err := f.st.GetConversation(ctx, f.account.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.CreatedAt, updated.LastActivityAt)
	assert.Equal(t, 1, f.countEvents(event.MessageCreated))
}

func TestFirstReplyDispatchedExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, CreateParams{
			AccountID:      f.account.ID,
			ConversationID: conv.ID,
			Type:           models.MessageTypeOutgoing,
			Content:        "reply",
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.countEvents(event.FirstReplyCreated))
}

func TestPrivateNotesDoNotCountAsFirstReply(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	_, err := f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeOutgoing,
		Content:        "internal note",
		Private:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.countEvents(event.FirstReplyCreated))
}

func TestIncomingReopensResolvedConversation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	_, err := f.convs.ToggleStatus(ctx, f.account.ID, conv.ID, models.SystemSender())
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeIncoming,
		Content:        "are you there?",
		Sender:         models.ContactSender(f.contact),
	})
	require.NoError(t, err)

	current, err := f.st.GetConversation(ctx, f.account.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusOpen, current.Status)
}

func TestIncomingLeavesMutedConversationResolved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	_, err := f.convs.Mute(ctx, f.account.ID, conv.ID, models.SystemSender())
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeIncoming,
		Content:        "hello again",
		Sender:         models.ContactSender(f.contact),
	})
	require.NoError(t, err)

	current, err := f.st.GetConversation(ctx, f.account.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusResolved, current.Status)
}

func TestOutgoingSchedulesCoalescedDigest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, CreateParams{
			AccountID:      f.account.ID,
			ConversationID: conv.ID,
			Type:           models.MessageTypeOutgoing,
			Content:        "update",
		})
		require.NoError(t, err)
	}

	// Bursts coalesce into a single pending digest job.
	assert.Len(t, f.queue.byType(jobs.TypeDigestEmail), 1)
}

func TestNoDigestWithoutContactEmail(t *testing.T) {
	f := newFixture(t, func(_ *models.Inbox, contact *models.Contact) {
		contact.Email = ""
	})
	ctx := context.Background()
	conv := f.createConversation(t)

	_, err := f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeOutgoing,
		Content:        "update",
	})
	require.NoError(t, err)

	assert.Empty(t, f.queue.byType(jobs.TypeDigestEmail))
}

func TestNoDigestOnNonEmailCapableChannel(t *testing.T) {
	f := newFixture(t, func(inbox *models.Inbox, _ *models.Contact) {
		inbox.ChannelType = models.ChannelTypeAPI
	})
	ctx := context.Background()
	conv := f.createConversation(t)

	_, err := f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeOutgoing,
		Content:        "update",
	})
	require.NoError(t, err)

	assert.Empty(t, f.queue.byType(jobs.TypeDigestEmail))
}

func TestTemplateHookInvocation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	_, err := f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeIncoming,
		Content:        "hi",
		Sender:         models.ContactSender(f.contact),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.hook.count())

	// Messages flagged as hook-generated do not re-enter evaluation.
	_, err = f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeTemplate,
		Content:        "welcome",
		SkipHooks:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.hook.count())
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	msg, err := f.svc.Create(ctx, CreateParams{
		AccountID:      f.account.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeOutgoing,
		Content:        "reply",
	})
	require.NoError(t, err)

	updated, err := f.svc.UpdateStatus(ctx, f.account.ID, msg.ID, models.MessageStatusRead)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, updated.Status)
	assert.Equal(t, 1, f.countEvents(event.MessageUpdated))

	_, err = f.svc.UpdateStatus(ctx, f.account.ID, msg.ID, "vanished")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestListOrdersByCreationTime(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.createConversation(t)

	contents := []string{"one", "two", "three"}
	base := time.Now()
	for i, content := range contents {
		at := base.Add(time.Duration(i) * time.Second)
		f.svc.SetClock(func() time.Time { return at })
		_, err := f.svc.Create(ctx, CreateParams{
			AccountID:      f.account.ID,
			ConversationID: conv.ID,
			Type:           models.MessageTypeIncoming,
			Content:        content,
			Sender:         models.ContactSender(f.contact),
		})
		require.NoError(t, err)
	}

	messages, err := f.svc.List(ctx, f.account.ID, conv.ID)
	require.NoError(t, err)
	var got []string
	for _, msg := range messages {
		if msg.Type == models.MessageTypeIncoming {
			got = append(got, msg.Content)
		}
	}
	assert.Equal(t, contents, got)
}
