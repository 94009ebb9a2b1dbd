// Package routing picks assignees for conversations using per-inbox
// round-robin rotation.
package routing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crewdesk/crewdesk/internal/kvstore"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

type Service struct {
	log   *slog.Logger
	store store.Store
	kv    kvstore.Store
}

func NewService(log *slog.Logger, st store.Store, kv kvstore.Store) *Service {
	return &Service{
		log:   log.With(slog.String("service", "routing")),
		store: st,
		kv:    kv,
	}
}

// Pick chooses the next assignee for a conversation in the given inbox.
// It returns ok=false when no assignment should happen: auto-assignment is
// off, the inbox has no members, the current assignee is still a member, or
// availability tracking filtered everyone out. Pick does not advance the
// rotation cursor; call Commit after the assignment is persisted.
func (s *Service) Pick(ctx context.Context, inbox models.Inbox, currentAssigneeID string) (string, bool, error) {
	if !inbox.AutoAssignment {
		return "", false, nil
	}
	members, err := s.store.ListInboxMembers(ctx, inbox.ID)
	if err != nil {
		return "", false, fmt.Errorf("list inbox members: %w", err)
	}
	if len(members) == 0 {
		return "", false, nil
	}
	if currentAssigneeID != "" {
		for _, m := range members {
			if m.AgentID == currentAssigneeID {
				return "", false, nil
			}
		}
	}

	cursor, _ := s.kv.Get(ctx, kvstore.RoundRobinKey(inbox.ID))
	start := 0
	for i, m := range members {
		if m.AgentID == cursor {
			start = i + 1
			break
		}
	}

	for i := 0; i < len(members); i++ {
		candidate := members[(start+i)%len(members)]
		if inbox.TrackAvailability && !s.available(ctx, candidate.AgentID) {
			continue
		}
		return candidate.AgentID, true, nil
	}
	return "", false, nil
}

// Commit advances the rotation cursor to the agent that actually received
// the assignment. Cursor state never expires; a restart simply resumes the
// rotation where it left off.
func (s *Service) Commit(ctx context.Context, inboxID, agentID string) {
	s.kv.SetEx(ctx, kvstore.RoundRobinKey(inboxID), agentID, 0)
	s.log.Debug("rotation advanced",
		slog.String("inbox_id", inboxID),
		slog.String("agent_id", agentID))
}

func (s *Service) available(ctx context.Context, agentID string) bool {
	_, ok := s.kv.Get(ctx, kvstore.PresenceKey(agentID))
	return ok
}
