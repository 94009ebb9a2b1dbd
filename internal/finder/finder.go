// Package finder builds filtered, paginated conversation views scoped to
// what the requesting agent is allowed to see.
package finder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

// PageSize is the fixed page size of every listing.
const PageSize = 25

// Assignee scopes accepted in Params.AssigneeType.
const (
	AssigneeMe         = "me"
	AssigneeUnassigned = "unassigned"
	AssigneeAll        = "all"
)

// Params are the caller-supplied filters. All provided dimensions combine
// as a logical AND; zero values apply no restriction.
type Params struct {
	Status       string
	AssigneeType string
	TeamID       string
	Labels       []string
	// Page selects the result page, starting at 1. Zero means the first page.
	Page int
}

// TabCounts are the sidebar counters derived from the same scope as the
// listing, ignoring the status filter's assignee dimension.
type TabCounts struct {
	Mine       int `json:"mine_count"`
	Unassigned int `json:"unassigned_count"`
	All        int `json:"all_count"`
}

// Result is one page of conversations plus derived counts.
type Result struct {
	Conversations []models.Conversation `json:"conversations"`
	Counts        TabCounts             `json:"meta"`
	Page          int                   `json:"page"`
}

type Finder struct {
	log   *slog.Logger
	store store.Store
}

func New(log *slog.Logger, st store.Store) *Finder {
	return &Finder{
		log:   log.With(slog.String("service", "finder")),
		store: st,
	}
}

// Find returns the conversations visible to the requester under the given
// filters. Administrators see every inbox of the account, agents only the
// inboxes they are members of, any other role sees nothing. The scope rule
// lives here, not in callers.
func (f *Finder) Find(ctx context.Context, requester models.Agent, p Params) (Result, error) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	result := Result{Conversations: []models.Conversation{}, Page: page}

	scope, visible, err := f.scope(ctx, requester)
	if err != nil {
		return Result{}, err
	}
	if !visible {
		return result, nil
	}

	base := store.ConversationFilter{
		AccountID: requester.AccountID,
		InboxIDs:  scope,
		Status:    p.Status,
		TeamID:    p.TeamID,
		Labels:    append([]string(nil), p.Labels...),
	}

	filter := base
	switch p.AssigneeType {
	case AssigneeMe:
		filter.AssigneeID = requester.ID
	case AssigneeUnassigned:
		filter.Unassigned = true
	case AssigneeAll, "":
	default:
		return Result{}, models.NewValidationError().Add("assignee_type", "is not a recognized scope")
	}
	filter.Limit = PageSize
	filter.Offset = (page - 1) * PageSize

	conversations, err := f.store.ListConversations(ctx, filter)
	if err != nil {
		return Result{}, fmt.Errorf("list conversations: %w", err)
	}
	result.Conversations = conversations

	counts, err := f.counts(ctx, requester, base)
	if err != nil {
		return Result{}, err
	}
	result.Counts = counts
	return result, nil
}

// scope resolves the requester's inbox visibility. A nil slice means no
// inbox restriction; visible=false short-circuits to an empty result.
func (f *Finder) scope(ctx context.Context, requester models.Agent) ([]string, bool, error) {
	switch requester.Role {
	case models.RoleAdministrator:
		return nil, true, nil
	case models.RoleAgent:
		inboxIDs, err := f.store.ListAgentInboxIDs(ctx, requester.ID)
		if err != nil {
			return nil, false, fmt.Errorf("list agent inboxes: %w", err)
		}
		if len(inboxIDs) == 0 {
			return nil, false, nil
		}
		return inboxIDs, true, nil
	default:
		return nil, false, nil
	}
}

// counts derives the mine/unassigned/all tab counters from the same base
// scope as the listing.
func (f *Finder) counts(ctx context.Context, requester models.Agent, base store.ConversationFilter) (TabCounts, error) {
	mine := base
	mine.AssigneeID = requester.ID
	mineCount, err := f.store.CountConversations(ctx, mine)
	if err != nil {
		return TabCounts{}, fmt.Errorf("count mine: %w", err)
	}

	unassigned := base
	unassigned.Unassigned = true
	unassignedCount, err := f.store.CountConversations(ctx, unassigned)
	if err != nil {
		return TabCounts{}, fmt.Errorf("count unassigned: %w", err)
	}

	allCount, err := f.store.CountConversations(ctx, base)
	if err != nil {
		return TabCounts{}, fmt.Errorf("count all: %w", err)
	}

	return TabCounts{Mine: mineCount, Unassigned: unassignedCount, All: allCount}, nil
}
