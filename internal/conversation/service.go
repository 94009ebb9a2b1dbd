// Package conversation implements the conversation state machine: status
// transitions, assignment, muting, activity logging and the side effects
// that fire on each change.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crewdesk/crewdesk/internal/event"
	"github.com/crewdesk/crewdesk/internal/i18n"
	"github.com/crewdesk/crewdesk/internal/jobs"
	"github.com/crewdesk/crewdesk/internal/kvstore"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/routing"
	"github.com/crewdesk/crewdesk/internal/store"
)

// MuteWindow is the suppression period applied by Mute. Expiry of the key is
// what ends the muted state; there is no explicit timer.
const MuteWindow = 6 * time.Hour

type Service struct {
	log     *slog.Logger
	store   store.Store
	kv      kvstore.Store
	hub     *event.Hub
	queue   jobs.Queue
	routing *routing.Service
	catalog *i18n.Catalog
	now     func() time.Time
}

func NewService(log *slog.Logger, st store.Store, kv kvstore.Store, hub *event.Hub, queue jobs.Queue, rt *routing.Service, catalog *i18n.Catalog) *Service {
	return &Service{
		log:     log.With(slog.String("service", "conversation")),
		store:   st,
		kv:      kv,
		hub:     hub,
		queue:   queue,
		routing: rt,
		catalog: catalog,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateParams describes a new conversation.
type CreateParams struct {
	AccountID string
	InboxID   string
	ContactID string
	TeamID    string
	Labels    []string

	AdditionalAttributes map[string]any
}

// Create opens a new conversation. The initial status is bot when the inbox
// has an active bot, open otherwise. A transition into open runs the usual
// open side effects (round-robin assignment, auto-resolve scheduling).
func (s *Service) Create(ctx context.Context, p CreateParams) (models.Conversation, error) {
	verr := models.NewValidationError()
	if p.AccountID == "" {
		verr.Add("account_id", "is required")
	}
	if p.InboxID == "" {
		verr.Add("inbox_id", "is required")
	}
	if p.ContactID == "" {
		verr.Add("contact_id", "is required")
	}
	if !verr.Empty() {
		return models.Conversation{}, verr
	}

	inbox, err := s.store.GetInbox(ctx, p.InboxID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load inbox: %w", err)
	}
	if inbox.AccountID != p.AccountID {
		return models.Conversation{}, store.ErrNotFound
	}
	if _, err := s.store.GetContact(ctx, p.AccountID, p.ContactID); err != nil {
		return models.Conversation{}, fmt.Errorf("load contact: %w", err)
	}

	status := models.ConversationStatusOpen
	if inbox.BotActive {
		status = models.ConversationStatusBot
	}
	now := s.now().UTC()
	conv := models.Conversation{
		AccountID:            p.AccountID,
		InboxID:              p.InboxID,
		ContactID:            p.ContactID,
		TeamID:               p.TeamID,
		Status:               status,
		Labels:               append([]string(nil), p.Labels...),
		LastActivityAt:       now,
		AdditionalAttributes: p.AdditionalAttributes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.CreateConversation(ctx, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	s.hub.Dispatch(event.ConversationCreated, now, conv.PushPayload())
	s.log.Info("conversation created",
		slog.String("conversation_id", conv.ID),
		slog.Int64("display_id", conv.DisplayID),
		slog.String("status", conv.Status))

	if conv.Status == models.ConversationStatusOpen {
		s.afterOpen(ctx, &conv, inbox)
	}
	return conv, nil
}

// Get loads one conversation scoped to the account.
func (s *Service) Get(ctx context.Context, accountID, id string) (models.Conversation, error) {
	return s.store.GetConversation(ctx, accountID, id)
}

// ToggleStatus flips the conversation status: open becomes resolved,
// resolved becomes open, bot becomes open. There is no direct path from bot
// to resolved.
func (s *Service) ToggleStatus(ctx context.Context, accountID, id string, actor models.Sender) (models.Conversation, error) {
	return s.update(ctx, accountID, id, actor, nil, func(conv *models.Conversation) error {
		switch conv.Status {
		case models.ConversationStatusOpen:
			conv.Status = models.ConversationStatusResolved
		case models.ConversationStatusResolved, models.ConversationStatusBot:
			conv.Status = models.ConversationStatusOpen
		default:
			return fmt.Errorf("unknown status %q", conv.Status)
		}
		return nil
	})
}

// Reopen moves a resolved conversation back to open. A no-op for any other
// status, which makes stale deferred reopens harmless.
func (s *Service) Reopen(ctx context.Context, accountID, id string, actor models.Sender) (models.Conversation, error) {
	return s.update(ctx, accountID, id, actor, nil, func(conv *models.Conversation) error {
		if conv.Status == models.ConversationStatusResolved {
			conv.Status = models.ConversationStatusOpen
		}
		return nil
	})
}

// UpdateAssignee sets or clears the assignee. Any agent of the account is
// accepted; round-robin only governs who gets picked automatically.
func (s *Service) UpdateAssignee(ctx context.Context, accountID, id, assigneeID string, actor models.Sender) (models.Conversation, error) {
	if assigneeID != "" {
		agent, err := s.store.GetAgent(ctx, assigneeID)
		if err != nil {
			return models.Conversation{}, fmt.Errorf("load assignee: %w", err)
		}
		if agent.AccountID != accountID {
			return models.Conversation{}, store.ErrNotFound
		}
	}
	return s.update(ctx, accountID, id, actor, nil, func(conv *models.Conversation) error {
		conv.AssigneeID = assigneeID
		return nil
	})
}

// UpdateLabels replaces the label set. The diff against the prior set drives
// the activity log.
func (s *Service) UpdateLabels(ctx context.Context, accountID, id string, labels []string, actor models.Sender) (models.Conversation, error) {
	return s.update(ctx, accountID, id, actor, nil, func(conv *models.Conversation) error {
		conv.Labels = append([]string(nil), labels...)
		return nil
	})
}

// UpdateContact re-points the conversation at another contact.
func (s *Service) UpdateContact(ctx context.Context, accountID, id, contactID string, actor models.Sender) (models.Conversation, error) {
	if _, err := s.store.GetContact(ctx, accountID, contactID); err != nil {
		return models.Conversation{}, fmt.Errorf("load contact: %w", err)
	}
	return s.update(ctx, accountID, id, actor, nil, func(conv *models.Conversation) error {
		conv.ContactID = contactID
		return nil
	})
}

// Lock and Unlock toggle the locked flag. Independent of status; no
// activity message, only the lock-toggle event.
func (s *Service) Lock(ctx context.Context, accountID, id string, actor models.Sender) (models.Conversation, error) {
	return s.setLocked(ctx, accountID, id, actor, true)
}

func (s *Service) Unlock(ctx context.Context, accountID, id string, actor models.Sender) (models.Conversation, error) {
	return s.setLocked(ctx, accountID, id, actor, false)
}

func (s *Service) setLocked(ctx context.Context, accountID, id string, actor models.Sender, locked bool) (models.Conversation, error) {
	return s.update(ctx, accountID, id, actor, nil, func(conv *models.Conversation) error {
		conv.Locked = locked
		return nil
	})
}

// Mute forces the conversation to resolved and suppresses reopen and repeat
// mail for the mute window. The key's expiry alone ends the muted state.
func (s *Service) Mute(ctx context.Context, accountID, id string, actor models.Sender) (models.Conversation, error) {
	s.kv.SetEx(ctx, kvstore.MuteKey(id), "1", MuteWindow)
	extra := []string{s.catalog.T("conversation.activity.muted", actorName(actor))}
	return s.update(ctx, accountID, id, actor, extra, func(conv *models.Conversation) error {
		conv.Status = models.ConversationStatusResolved
		return nil
	})
}

// Unmute clears the mute key and records an unmuted activity entry. The
// status is left as is.
func (s *Service) Unmute(ctx context.Context, accountID, id string, actor models.Sender) (models.Conversation, error) {
	s.kv.Delete(ctx, kvstore.MuteKey(id))
	extra := []string{s.catalog.T("conversation.activity.unmuted", actorName(actor))}
	return s.update(ctx, accountID, id, actor, extra, func(conv *models.Conversation) error {
		return nil
	})
}

// IsMuted reflects presence of the mute key only, not the status.
func (s *Service) IsMuted(ctx context.Context, id string) bool {
	_, ok := s.kv.Get(ctx, kvstore.MuteKey(id))
	return ok
}

// MarkRead records that the agent has seen the conversation up to now and
// dispatches the read event.
func (s *Service) MarkRead(ctx context.Context, accountID, id string, actor models.Sender) (models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, accountID, id)
	if err != nil {
		return models.Conversation{}, err
	}
	now := s.now().UTC()
	switch actor.Type {
	case models.SenderTypeContact:
		conv.ContactLastSeenAt = now
	default:
		conv.AgentLastSeenAt = now
	}
	if err := s.store.UpdateConversation(ctx, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("mark read: %w", err)
	}
	s.hub.Dispatch(event.ConversationRead, now, conv.PushPayload())
	return conv, nil
}

// CanReply reports whether the inbox's messaging window still permits an
// outgoing reply. Channels without a window always permit replies; windowed
// channels require an incoming message younger than the window.
func (s *Service) CanReply(ctx context.Context, conv models.Conversation) (bool, error) {
	inbox, err := s.store.GetInbox(ctx, conv.InboxID)
	if err != nil {
		return false, fmt.Errorf("load inbox: %w", err)
	}
	if inbox.MessagingWindow <= 0 {
		return true, nil
	}
	last, err := s.store.LastMessageOfType(ctx, conv.ID, models.MessageTypeIncoming)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load last incoming: %w", err)
	}
	return s.now().Sub(last.CreatedAt) <= inbox.MessagingWindow, nil
}

// TouchActivity advances the activity timestamp and reschedules the
// auto-resolve check when the conversation is open. The narrow update used
// by the message pipeline; it does not run the full update pipeline.
func (s *Service) TouchActivity(ctx context.Context, conv models.Conversation, at time.Time) error {
	if err := s.store.TouchConversationActivity(ctx, conv.ID, at); err != nil {
		return err
	}
	if conv.Status == models.ConversationStatusOpen {
		s.scheduleAutoResolve(ctx, conv.AccountID, conv.ID)
	}
	return nil
}

// RunAutoResolveCheck is the deferred auto-resolve job body. It re-reads
// current state so stale schedules are harmless: a conversation that was
// reopened, resolved by hand, or recently active is left alone.
func (s *Service) RunAutoResolveCheck(ctx context.Context, accountID, conversationID string) error {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if account.AutoResolveAfter <= 0 {
		return nil
	}
	conv, err := s.store.GetConversation(ctx, accountID, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.Status != models.ConversationStatusOpen {
		return nil
	}
	if s.now().Sub(conv.LastActivityAt) < account.AutoResolveAfter {
		return nil
	}
	extra := []string{s.catalog.T("conversation.activity.status.auto_resolved")}
	_, err = s.update(ctx, accountID, conversationID, models.SystemSender(), extra, func(conv *models.Conversation) error {
		conv.Status = models.ConversationStatusResolved
		return nil
	})
	return err
}

// AutoResolveIdle sweeps all accounts with an auto-resolve window and
// resolves open conversations idle past it. Backstop for deferred checks
// lost to a restart.
func (s *Service) AutoResolveIdle(ctx context.Context) (int, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	resolved := 0
	for _, account := range accounts {
		if account.AutoResolveAfter <= 0 {
			continue
		}
		convs, err := s.store.ListConversations(ctx, store.ConversationFilter{
			AccountID: account.ID,
			Status:    models.ConversationStatusOpen,
		})
		if err != nil {
			return resolved, fmt.Errorf("list open conversations: %w", err)
		}
		for _, conv := range convs {
			if s.now().Sub(conv.LastActivityAt) < account.AutoResolveAfter {
				continue
			}
			if err := s.RunAutoResolveCheck(ctx, account.ID, conv.ID); err != nil {
				s.log.Error("auto-resolve failed",
					slog.String("conversation_id", conv.ID),
					slog.Any("error", err))
				continue
			}
			resolved++
		}
	}
	return resolved, nil
}

// pendingEvent is an external event held until the transaction commits.
type pendingEvent struct {
	name    string
	payload map[string]any
}

// update is the single write path for conversation mutations. It loads the
// record, applies mutate, diffs the before/after snapshot, persists the
// change plus one activity message per changed dimension in one transaction,
// and dispatches the recognized transition events only after commit.
func (s *Service) update(ctx context.Context, accountID, id string, actor models.Sender, extraActivities []string, mutate func(*models.Conversation) error) (models.Conversation, error) {
	var (
		result     models.Conversation
		events     []pendingEvent
		openedNow  bool
		activities []models.Message
	)
	now := s.now().UTC()

	err := s.store.Tx(ctx, func(tx store.Store) error {
		conv, err := tx.GetConversation(ctx, accountID, id)
		if err != nil {
			return err
		}
		before := conv
		before.Labels = append([]string(nil), conv.Labels...)

		if err := mutate(&conv); err != nil {
			return err
		}

		lines, err := s.activityLines(ctx, tx, before, conv, actor)
		if err != nil {
			return err
		}
		lines = append(lines, extraActivities...)

		if len(lines) > 0 {
			conv.LastActivityAt = now
		}
		conv.UpdatedAt = now
		if err := tx.UpdateConversation(ctx, &conv); err != nil {
			return err
		}

		activities = activities[:0]
		// Stagger creation times so the detection order (status, assignee,
		// labels) survives sorting by creation time.
		for i, line := range lines {
			msg := models.Message{
				AccountID:      conv.AccountID,
				InboxID:        conv.InboxID,
				ConversationID: conv.ID,
				Type:           models.MessageTypeActivity,
				Content:        line,
				ContentType:    models.ContentTypeText,
				Status:         models.MessageStatusSent,
				SenderType:     actor.Type,
				SenderID:       actor.ID,
				SenderName:     actor.Name,
				CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
			}
			if err := tx.CreateMessage(ctx, &msg); err != nil {
				return fmt.Errorf("record activity: %w", err)
			}
			activities = append(activities, msg)
		}

		events = s.transitionEvents(before, conv)
		openedNow = before.Status != models.ConversationStatusOpen &&
			conv.Status == models.ConversationStatusOpen
		result = conv
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	for _, evt := range events {
		s.hub.Dispatch(evt.name, now, evt.payload)
	}
	for _, msg := range activities {
		s.hub.Dispatch(event.MessageCreated, now, msg.PushPayload())
	}

	if openedNow {
		inbox, err := s.store.GetInbox(ctx, result.InboxID)
		if err != nil {
			s.log.Error("load inbox after reopen", slog.Any("error", err))
			return result, nil
		}
		s.afterOpen(ctx, &result, inbox)
	} else if result.Status == models.ConversationStatusOpen && len(activities) > 0 {
		s.scheduleAutoResolve(ctx, result.AccountID, result.ID)
	}
	return result, nil
}

// activityLines renders one activity entry per changed dimension, in the
// fixed order status, assignee, labels.
func (s *Service) activityLines(ctx context.Context, tx store.Store, before, after models.Conversation, actor models.Sender) ([]string, error) {
	lines := make([]string, 0, 3)
	name := actorName(actor)

	if before.Status != after.Status {
		switch after.Status {
		case models.ConversationStatusResolved:
			lines = append(lines, s.catalog.T("conversation.activity.status.resolved", name))
		case models.ConversationStatusOpen:
			lines = append(lines, s.catalog.T("conversation.activity.status.open", name))
		}
	}

	if before.AssigneeID != after.AssigneeID {
		switch {
		case after.AssigneeID == "":
			lines = append(lines, s.catalog.T("conversation.activity.assignee.removed", name))
		case actor.Type == models.SenderTypeAgent && actor.ID == after.AssigneeID:
			lines = append(lines, s.catalog.T("conversation.activity.assignee.self_assigned", name))
		default:
			agent, err := tx.GetAgent(ctx, after.AssigneeID)
			if err != nil {
				return nil, fmt.Errorf("load assignee: %w", err)
			}
			lines = append(lines, s.catalog.T("conversation.activity.assignee.assigned", agent.Name, name))
		}
	}

	added, removed := diffLabels(before.Labels, after.Labels)
	if len(added) > 0 {
		lines = append(lines, s.catalog.T("conversation.activity.labels.added", name, strings.Join(added, ", ")))
	}
	if len(removed) > 0 {
		lines = append(lines, s.catalog.T("conversation.activity.labels.removed", name, strings.Join(removed, ", ")))
	}
	return lines, nil
}

// transitionEvents maps a before/after snapshot to the external events the
// dispatcher contract recognizes.
func (s *Service) transitionEvents(before, after models.Conversation) []pendingEvent {
	events := make([]pendingEvent, 0, 3)
	if before.Status != after.Status {
		switch after.Status {
		case models.ConversationStatusOpen:
			events = append(events, pendingEvent{event.ConversationOpened, after.PushPayload()})
		case models.ConversationStatusResolved:
			events = append(events, pendingEvent{event.ConversationResolved, after.PushPayload()})
		}
	}
	if before.AssigneeID != after.AssigneeID {
		events = append(events, pendingEvent{event.AssigneeChanged, after.PushPayload()})
	}
	if before.Locked != after.Locked {
		events = append(events, pendingEvent{event.ConversationLockToggle, after.PushPayload()})
	}
	if before.ContactID != after.ContactID {
		events = append(events, pendingEvent{event.ConversationContactChanged, after.PushPayload()})
	}
	return events
}

// afterOpen runs the side effects of a transition into open: round-robin
// assignment when the inbox qualifies, then auto-resolve scheduling.
func (s *Service) afterOpen(ctx context.Context, conv *models.Conversation, inbox models.Inbox) {
	agentID, ok, err := s.routing.Pick(ctx, inbox, conv.AssigneeID)
	if err != nil {
		s.log.Error("round-robin pick failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err))
	} else if ok {
		updated, err := s.update(ctx, conv.AccountID, conv.ID, models.SystemSender(), nil, func(c *models.Conversation) error {
			c.AssigneeID = agentID
			return nil
		})
		if err != nil {
			s.log.Error("round-robin assignment failed",
				slog.String("conversation_id", conv.ID),
				slog.Any("error", err))
		} else {
			*conv = updated
			s.routing.Commit(ctx, inbox.ID, agentID)
		}
	}
	s.scheduleAutoResolve(ctx, conv.AccountID, conv.ID)
}

// scheduleAutoResolve enqueues a delayed status check when the account
// defines an auto-resolve window. Fire and forget; the check re-validates
// everything, so over-scheduling is safe.
func (s *Service) scheduleAutoResolve(ctx context.Context, accountID, conversationID string) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		s.log.Error("load account for auto-resolve", slog.Any("error", err))
		return
	}
	if account.AutoResolveAfter <= 0 {
		return
	}
	s.queue.Enqueue(ctx, jobs.TypeAutoResolve, account.AutoResolveAfter, map[string]string{
		"account_id":      accountID,
		"conversation_id": conversationID,
	})
}

func actorName(actor models.Sender) string {
	if actor.Name != "" {
		return actor.Name
	}
	return "system"
}

func diffLabels(before, after []string) (added, removed []string) {
	beforeSet := make(map[string]struct{}, len(before))
	for _, l := range before {
		beforeSet[l] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, l := range after {
		afterSet[l] = struct{}{}
	}
	for _, l := range after {
		if _, ok := beforeSet[l]; !ok {
			added = append(added, l)
		}
	}
	for _, l := range before {
		if _, ok := afterSet[l]; !ok {
			removed = append(removed, l)
		}
	}
	return added, removed
}
