package conversation

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

// fakeQueue records enqueued jobs instead of running them.
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

type fixture struct {
	svc     *Service
	st      *store.Memory
	kv      *kvstore.Memory
	hub     *event.Hub
	queue   *fakeQueue
	account models.Account
	inbox   models.Inbox
	contact models.Contact

	mu     sync.Mutex
	events []string
}

func (f *fixture) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newFixture(t *testing.T, mutate func(*models.Account, *models.Inbox)) *fixture {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemory()
	kv := kvstore.NewMemory()
	hub := event.NewHub(log)
	queue := &fakeQueue{}
	catalog, err := i18n.Load()
	require.NoError(t, err)

	f := &fixture{st: st, kv: kv, hub: hub, queue: queue}
	hub.Subscribe(func(evt event.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, evt.Name)
	})

	f.account = models.Account{Name: "acme"}
	f.inbox = models.Inbox{Name: "support", ChannelType: models.ChannelTypeWebWidget}
	if mutate != nil {
		mutate(&f.account, &f.inbox)
	}
	require.NoError(t, st.CreateAccount(ctx, &f.account))
	f.inbox.AccountID = f.account.ID
	require.NoError(t, st.CreateInbox(ctx, &f.inbox))
	f.contact = models.Contact{AccountID: f.account.ID, Name: "Pat"}
	require.NoError(t, st.CreateContact(ctx, &f.contact))

	rt := routing.NewService(log, st, kv)
	f.svc = NewService(log, st, kv, hub, queue, rt, catalog)
	return f
}

func (f *fixture) create(t *testing.T) models.Conversation {
	t.Helper()
	conv, err := f.svc.Create(context.Background(), CreateParams{
		AccountID: f.account.ID,
		InboxID:   f.inbox.ID,
		ContactID: f.contact.ID,
	})
	require.NoError(t, err)
	return conv
}

func (f *fixture) addAgent(t *testing.T, name string) models.Agent {
	t.Helper()
	agent := models.Agent{AccountID: f.account.ID, Name: name, Email: name + "@acme.test", Role: models.RoleAgent}
	require.NoError(t, f.st.CreateAgent(context.Background(), &agent))
	return agent
}

func (f *fixture) activities(t *testing.T, conversationID string) []models.Message {
	t.Helper()
	all, err := f.st.ListMessages(context.Background(), conversationID)
	require.NoError(t, err)
	var activities []models.Message
	for _, msg := range all {
		if msg.Type == models.MessageTypeActivity {
			activities = append(activities, msg)
		}
	}
	return activities
}

func TestCreateStartsOpen(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.create(t)

	assert.Equal(t, models.ConversationStatusOpen, conv.Status)
	assert.Equal(t, int64(1), conv.DisplayID)
	assert.Contains(t, f.eventNames(), event.ConversationCreated)
}

func TestCreateStartsBotWhenInboxHasActiveBot(t *testing.T) {
	f := newFixture(t, func(_ *models.Account, inbox *models.Inbox) {
		inbox.BotActive = true
	})
	conv := f.create(t)

	assert.Equal(t, models.ConversationStatusBot, conv.Status)
}

func TestCreateValidatesRequiredIDs(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Create(context.Background(), CreateParams{AccountID: f.account.ID})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "inbox_id")
	assert.Contains(t, verr.Fields, "contact_id")
}

func TestCreateRunsRoundRobin(t *testing.T) {
	f := newFixture(t, func(_ *models.Account, inbox *models.Inbox) {
		inbox.AutoAssignment = true
	})
	ctx := context.Background()
	a1 := f.addAgent(t, "Ann")
	a2 := f.addAgent(t, "Ben")
	_, err := f.st.AddInboxMember(ctx, f.inbox.ID, a1.ID)
	require.NoError(t, err)
	_, err = f.st.AddInboxMember(ctx, f.inbox.ID, a2.ID)
	require.NoError(t, err)

	first := f.create(t)
	second := f.create(t)

	assert.Equal(t, a1.ID, first.AssigneeID)
	assert.Equal(t, a2.ID, second.AssigneeID)
	assert.Contains(t, f.eventNames(), event.AssigneeChanged)
}

func TestToggleStatusCycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.create(t)
	actor := models.Sender{Type: models.SenderTypeAgent, ID: "a1", Name: "Ann"}

	resolved, err := f.svc.ToggleStatus(ctx, f.account.ID, conv.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusResolved, resolved.Status)
	assert.Contains(t, f.eventNames(), event.ConversationResolved)

	reopened, err := f.svc.ToggleStatus(ctx, f.account.ID, conv.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusOpen, reopened.Status)
	assert.Contains(t, f.eventNames(), event.ConversationOpened)

	activities := f.activities(t, conv.ID)
	require.Len(t, activities, 2)
	assert.Equal(t, "Conversation was marked resolved by Ann", activities[0].Content)
	assert.Equal(t, "Conversation was reopened by Ann", activities[1].Content)
}

func TestToggleStatusFromBotGoesToOpen(t *testing.T) {
	f := newFixture(t, func(_ *models.Account, inbox *models.Inbox) {
		inbox.BotActive = true
	})
	ctx := context.Background()
	conv := f.create(t)
	require.Equal(t, models.ConversationStatusBot, conv.Status)

	toggled, err := f.svc.ToggleStatus(ctx, f.account.ID, conv.ID, models.SystemSender())
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusOpen, toggled.Status)
}

func TestAssigneeActivities(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.create(t)
	ann := f.addAgent(t, "Ann")
	ben := f.addAgent(t, "Ben")

	// Ann assigns Ben.
	_, err := f.svc.UpdateAssignee(ctx, f.account.ID, conv.ID, ben.ID, models.AgentSender(ann))
	require.NoError(t, err)
	// Ann self-assigns.
	_, err = f.svc.UpdateAssignee(ctx, f.account.ID, conv.ID, ann.ID, models.AgentSender(ann))
	require.NoError(t, err)
	// Ann unassigns.
	_, err = f.svc.UpdateAssignee(ctx, f.account.ID, conv.ID, "", models.AgentSender(ann))
	require.NoError(t, err)

	activities := f.activities(t, conv.ID)
	require.Len(t, activities, 3)
	assert.Equal(t, "Assigned to Ben by Ann", activities[0].Content)
	assert.Equal(t, "Ann self-assigned this conversation", activities[1].Content)
	assert.Equal(t, "Conversation unassigned by Ann", activities[2].Content)
}

func TestLabelActivities(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.create(t)
	ann := f.addAgent(t, "Ann")

	_, err := f.svc.UpdateLabels(ctx, f.account.ID, conv.ID, []string{"billing", "bug"}, models.AgentSender(ann))
	require.NoError(t, err)
	_, err = f.svc.UpdateLabels(ctx, f.account.ID, conv.ID, []string{"billing"}, models.AgentSender(ann))
	require.NoError(t, err)

	activities := f.activities(t, conv.ID)
	require.Len(t, activities, 2)
	assert.Equal(t, "Ann added billing, bug", activities[0].Content)
	assert.Equal(t, "Ann removed bug", activities[1].Content)
}

func TestMuteForcesResolvedAndExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.create(t)
	ann := f.addAgent(t, "Ann")

	now := time.Now()
	f.kv.SetClock(func() time.Time { return now })

	muted, err := f.svc.Mute(ctx, f.account.ID, conv.ID, models.AgentSender(ann))
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusResolved, muted.Status)
	assert.True(t, f.svc.IsMuted(ctx, conv.ID))

	activities := f.activities(t, conv.ID)
	require.Len(t, activities, 2)
	assert.Equal(t, "Conversation was marked resolved by Ann", activities[0].Content)
	assert.Equal(t, "Conversation was muted by Ann", activities[1].Content)

	// The mute ends by key expiry alone.
	now = now.Add(MuteWindow + time.Minute)
	assert.False(t, f.svc.IsMuted(ctx, conv.ID))
}

func TestUnmuteClearsKeyAndLogsActivity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.create(t)
	ann := f.addAgent(t, "Ann")

	_, err := f.svc.Mute(ctx, f.account.ID, conv.ID, models.AgentSender(ann))
	require.NoError(t, err)
	_, err = f.svc.Unmute(ctx, f.account.ID, conv.ID, models.AgentSender(ann))
	require.NoError(t, err)

	assert.False(t, f.svc.IsMuted(ctx, conv.ID))
	activities := f.activities(t, conv.ID)
	assert.Equal(t, "Conversation was unmuted by Ann", activities[len(activities)-1].Content)
}

func TestLockTogglesEventWithoutActivity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.create(t)

	locked, err := f.svc.Lock(ctx, f.account.ID, conv.ID, models.SystemSender())
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	assert.Contains(t, f.eventNames(), event.ConversationLockToggle)
	assert.Empty(t, f.activities(t, conv.ID))

	unlocked, err := f.svc.Unlock(ctx, f.account.ID, conv.ID, models.SystemSender())
	require.NoError(t, err)
	assert.False(t, unlocked.Locked)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.create(t)
	ann := f.addAgent(t, "Ann")

	read, err := f.svc.MarkRead(ctx, f.account.ID, conv.ID, models.AgentSender(ann))
	require.NoError(t, err)
	assert.False(t, read.AgentLastSeenAt.IsZero())
	assert.Contains(t, f.eventNames(), event.ConversationRead)
}

func TestAutoResolveScheduledOnOpen(t *testing.T) {
	f := newFixture(t, func(account *models.Account, _ *models.Inbox) {
		account.AutoResolveAfter = 30 * time.Minute
	})
	conv := f.create(t)

	scheduled := f.queue.byType(jobs.TypeAutoResolve)
	require.NotEmpty(t, scheduled)
	assert.Equal(t, 30*time.Minute, scheduled[0].delay)
	assert.Equal(t, conv.ID, scheduled[0].args["conversation_id"])
}

func TestRunAutoResolveCheck(t *testing.T) {
	f := newFixture(t, func(account *models.Account, _ *models.Inbox) {
		account.AutoResolveAfter = 30 * time.Minute
	})
	ctx := context.Background()
	conv := f.create(t)

	// Recent activity: the check leaves the conversation alone.
	require.NoError(t, f.svc.RunAutoResolveCheck(ctx, f.account.ID, conv.ID))
	current, err := f.svc.Get(ctx, f.account.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusOpen, current.Status)

	// Idle past the window: the check resolves it.
	f.svc.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	require.NoError(t, f.svc.RunAutoResolveCheck(ctx, f.account.ID, conv.ID))
	current, err = f.svc.Get(ctx, f.account.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusResolved, current.Status)

	activities := f.activities(t, conv.ID)
	require.NotEmpty(t, activities)
	assert.Equal(t, "Conversation was marked resolved due to inactivity", activities[len(activities)-1].Content)

	// Re-running against a resolved conversation is a no-op.
	require.NoError(t, f.svc.RunAutoResolveCheck(ctx, f.account.ID, conv.ID))
	assert.Len(t, f.activities(t, conv.ID), len(activities))
}

func TestAutoResolveIdleSweep(t *testing.T) {
	f := newFixture(t, func(account *models.Account, _ *models.Inbox) {
		account.AutoResolveAfter = 30 * time.Minute
	})
	ctx := context.Background()
	idle := f.create(t)
	fresh := f.create(t)

	f.svc.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	require.NoError(t, f.st.TouchConversationActivity(ctx, fresh.ID, time.Now().Add(50*time.Minute)))

	resolved, err := f.svc.AutoResolveIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	idleNow, err := f.svc.Get(ctx, f.account.ID, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusResolved, idleNow.Status)
	freshNow, err := f.svc.Get(ctx, f.account.ID, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusOpen, freshNow.Status)
}

func TestCanReplyWithinMessagingWindow(t *testing.T) {
	f := newFixture(t, func(_ *models.Account, inbox *models.Inbox) {
		inbox.MessagingWindow = 24 * time.Hour
	})
	ctx := context.Background()
	conv := f.create(t)

	// No incoming message yet: cannot reply.
	ok, err := f.svc.CanReply(ctx, conv)
	require.NoError(t, err)
	assert.False(t, ok)

	msg := models.Message{
		AccountID:      f.account.ID,
		InboxID:        f.inbox.ID,
		ConversationID: conv.ID,
		Type:           models.MessageTypeIncoming,
		CreatedAt:      time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, f.st.CreateMessage(ctx, &msg))

	ok, err = f.svc.CanReply(ctx, conv)
	require.NoError(t, err)
	assert.True(t, ok)

	// An incoming message older than the window closes it again.
	f.svc.SetClock(func() time.Time { return time.Now().Add(25 * time.Hour) })
	ok, err = f.svc.CanReply(ctx, conv)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanReplyUnlimitedWithoutWindow(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.create(t)

	ok, err := f.svc.CanReply(context.Background(), conv)
	require.NoError(t, err)
	assert.True(t, ok)
}
