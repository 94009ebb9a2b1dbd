package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/crewdesk/internal/models"
)

// Memory is the in-process Store used by tests and the "memory" driver.
// Writes cannot partially fail, so Tx reduces to serializing transactional
// sections against each other.
type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	conversations map[string]models.Conversation
	messages      map[string]models.Message
	inboxes       map[string]models.Inbox
	members       []models.InboxMember
	nextMemberID  int64
	agents        map[string]models.Agent
	accounts      map[string]models.Account
	contacts      map[string]models.Contact

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: map[string]models.Conversation{},
		messages:      map[string]models.Message{},
		inboxes:       map[string]models.Inbox{},
		agents:        map[string]models.Agent{},
		accounts:      map[string]models.Account{},
		contacts:      map[string]models.Contact{},
		nextMemberID:  1,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Tx(_ context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(memoryTxView{m})
}

// memoryTxView is the store handed to Tx callbacks. It reuses the parent's
// fine-grained locking but must not re-enter Tx.
type memoryTxView struct{ *Memory }

func (v memoryTxView) Tx(_ context.Context, fn func(Store) error) error {
	return fn(v)
}

// --- conversations ---

func (m *Memory) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := m.now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}
	// Next display id: max over the account, re-checked under the lock so
	// concurrent creates cannot collide.
	var max int64
	for _, c := range m.conversations {
		if c.AccountID == conv.AccountID && c.DisplayID > max {
			max = c.DisplayID
		}
	}
	conv.DisplayID = max + 1
	m.conversations[conv.ID] = cloneConversation(*conv)
	return nil
}

func (m *Memory) GetConversation(_ context.Context, accountID, id string) (models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok || conv.AccountID != accountID {
		return models.Conversation{}, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (m *Memory) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	conv.DisplayID = existing.DisplayID
	conv.UpdatedAt = m.now().UTC()
	m.conversations[conv.ID] = cloneConversation(*conv)
	return nil
}

func (m *Memory) TouchConversationActivity(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(conv.LastActivityAt) {
		conv.LastActivityAt = at
		m.conversations[id] = conv
	}
	return nil
}

func (m *Memory) ListConversations(_ context.Context, filter ConversationFilter) ([]models.Conversation, error) {
	m.mu.RLock()
	matched := make([]models.Conversation, 0)
	for _, conv := range m.conversations {
		if matchesFilter(conv, filter) {
			matched = append(matched, cloneConversation(conv))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastActivityAt.After(matched[j].LastActivityAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []models.Conversation{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *Memory) CountConversations(_ context.Context, filter ConversationFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, conv := range m.conversations {
		if matchesFilter(conv, filter) {
			count++
		}
	}
	return count, nil
}

func matchesFilter(conv models.Conversation, filter ConversationFilter) bool {
	if filter.AccountID != "" && conv.AccountID != filter.AccountID {
		return false
	}
	if filter.InboxIDs != nil {
		found := false
		for _, id := range filter.InboxIDs {
			if conv.InboxID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Status != "" && conv.Status != filter.Status {
		return false
	}
	if filter.Unassigned && conv.AssigneeID != "" {
		return false
	}
	if filter.AssigneeID != "" && conv.AssigneeID != filter.AssigneeID {
		return false
	}
	if filter.TeamID != "" && conv.TeamID != filter.TeamID {
		return false
	}
	if len(filter.Labels) > 0 {
		any := false
		for _, l := range filter.Labels {
			if conv.HasLabel(l) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// --- messages ---

func (m *Memory) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	m.messages[msg.ID] = cloneMessage(*msg)
	return nil
}

func (m *Memory) GetMessage(_ context.Context, accountID, id string) (models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok || msg.AccountID != accountID {
		return models.Message{}, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (m *Memory) UpdateMessageStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	m.messages[id] = msg
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	return m.listMessages(conversationID, time.Time{})
}

func (m *Memory) ListMessagesSince(_ context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	return m.listMessages(conversationID, since)
}

func (m *Memory) listMessages(conversationID string, since time.Time) ([]models.Message, error) {
	m.mu.RLock()
	result := make([]models.Message, 0)
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if !since.IsZero() && msg.CreatedAt.Before(since) {
			continue
		}
		result = append(result, cloneMessage(msg))
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) CountMessagesByType(_ context.Context, conversationID, messageType string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.Type == messageType {
			count++
		}
	}
	return count, nil
}

func (m *Memory) LastMessageOfType(_ context.Context, conversationID, messageType string) (models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last models.Message
	found := false
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID || msg.Type != messageType {
			continue
		}
		if !found || msg.CreatedAt.After(last.CreatedAt) {
			last = msg
			found = true
		}
	}
	if !found {
		return models.Message{}, ErrNotFound
	}
	return cloneMessage(last), nil
}

// --- inboxes ---

func (m *Memory) CreateInbox(_ context.Context, inbox *models.Inbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inbox.ID == "" {
		inbox.ID = uuid.NewString()
	}
	if inbox.CreatedAt.IsZero() {
		inbox.CreatedAt = m.now().UTC()
	}
	m.inboxes[inbox.ID] = *inbox
	return nil
}

func (m *Memory) GetInbox(_ context.Context, id string) (models.Inbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inbox, ok := m.inboxes[id]
	if !ok {
		return models.Inbox{}, ErrNotFound
	}
	return inbox, nil
}

func (m *Memory) ListInboxes(_ context.Context, accountID string) ([]models.Inbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Inbox, 0)
	for _, inbox := range m.inboxes {
		if inbox.AccountID == accountID {
			result = append(result, inbox)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) AddInboxMember(_ context.Context, inboxID, agentID string) (models.InboxMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inboxes[inboxID]; !ok {
		return models.InboxMember{}, ErrNotFound
	}
	member := models.InboxMember{ID: m.nextMemberID, InboxID: inboxID, AgentID: agentID}
	m.nextMemberID++
	m.members = append(m.members, member)
	return member, nil
}

func (m *Memory) ListInboxMembers(_ context.Context, inboxID string) ([]models.InboxMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.InboxMember, 0)
	for _, member := range m.members {
		if member.InboxID == inboxID {
			result = append(result, member)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) ListAgentInboxIDs(_ context.Context, agentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]string, 0)
	for _, member := range m.members {
		if member.AgentID == agentID {
			result = append(result, member.InboxID)
		}
	}
	return result, nil
}

// --- agents ---

func (m *Memory) CreateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = m.now().UTC()
	}
	m.agents[agent.ID] = *agent
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return models.Agent{}, ErrNotFound
	}
	return agent, nil
}

func (m *Memory) GetAgentByEmail(_ context.Context, email string) (models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, agent := range m.agents {
		if agent.Email == email {
			return agent, nil
		}
	}
	return models.Agent{}, ErrNotFound
}

func (m *Memory) ListAgents(_ context.Context, accountID string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0)
	for _, agent := range m.agents {
		if agent.AccountID == accountID {
			result = append(result, agent)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// --- accounts ---

func (m *Memory) CreateAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = m.now().UTC()
	}
	m.accounts[account.ID] = *account
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	return account, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) CountAccounts(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

// --- contacts ---

func (m *Memory) CreateContact(_ context.Context, contact *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = m.now().UTC()
	}
	m.contacts[contact.ID] = *contact
	return nil
}

func (m *Memory) GetContact(_ context.Context, accountID, id string) (models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	contact, ok := m.contacts[id]
	if !ok || contact.AccountID != accountID {
		return models.Contact{}, ErrNotFound
	}
	return contact, nil
}

func (m *Memory) UpdateContact(_ context.Context, contact *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[contact.ID]; !ok {
		return ErrNotFound
	}
	m.contacts[contact.ID] = *contact
	return nil
}

func cloneConversation(conv models.Conversation) models.Conversation {
	conv.Labels = append([]string(nil), conv.Labels...)
	if conv.AdditionalAttributes != nil {
		attrs := make(map[string]any, len(conv.AdditionalAttributes))
		for k, v := range conv.AdditionalAttributes {
			attrs[k] = v
		}
		conv.AdditionalAttributes = attrs
	}
	return conv
}

func cloneMessage(msg models.Message) models.Message {
	msg.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	return msg
}
