package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewdesk/crewdesk/internal/config"
	"github.com/crewdesk/crewdesk/internal/models"
)

const displayIDAttempts = 5

type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store backed by pgx.
type Postgres struct {
	pool *pgxpool.Pool
	db   pgDB
}

// Open connects to Postgres and returns the store.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	return &Postgres{pool: pool, db: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Pool exposes the underlying pool for migrations.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

// Tx runs fn inside a database transaction. Calling Tx on an already
// transaction-bound store runs fn in the enclosing transaction.
func (p *Postgres) Tx(ctx context.Context, fn func(Store) error) error {
	if p.pool == nil {
		return fn(p)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	bound := &Postgres{db: tx}
	if err := fn(bound); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- conversations ---

const conversationColumns = `id, account_id, display_id, inbox_id, contact_id, team_id,
	status, locked, assignee_id, labels, last_activity_at, agent_last_seen_at,
	contact_last_seen_at, additional_attributes, created_at, updated_at`

func (p *Postgres) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}
	attrs, err := json.Marshal(nonNilAttrs(conv.AdditionalAttributes))
	if err != nil {
		return fmt.Errorf("marshal additional attributes: %w", err)
	}

	// Probe for the next display id and insert; ON CONFLICT covers the race
	// between concurrent creates on the same account.
	for attempt := 0; attempt < displayIDAttempts; attempt++ {
		var next int64
		err := p.db.QueryRow(ctx,
			`SELECT COALESCE(MAX(display_id), 0) + 1 FROM conversations WHERE account_id = $1`,
			conv.AccountID,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("next display id: %w", err)
		}
		tag, err := p.db.Exec(ctx,
			`INSERT INTO conversations (`+conversationColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			 ON CONFLICT (account_id, display_id) DO NOTHING`,
			conv.ID, conv.AccountID, next, conv.InboxID, conv.ContactID, conv.TeamID,
			conv.Status, conv.Locked, conv.AssigneeID, textArray(conv.Labels),
			conv.LastActivityAt, nullableTime(conv.AgentLastSeenAt),
			nullableTime(conv.ContactLastSeenAt), attrs, conv.CreatedAt, conv.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if tag.RowsAffected() == 1 {
			conv.DisplayID = next
			return nil
		}
	}
	return fmt.Errorf("assign display id for account %s: retries exhausted", conv.AccountID)
}

func (p *Postgres) GetConversation(ctx context.Context, accountID, id string) (models.Conversation, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	return scanConversation(row)
}

func (p *Postgres) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	attrs, err := json.Marshal(nonNilAttrs(conv.AdditionalAttributes))
	if err != nil {
		return fmt.Errorf("marshal additional attributes: %w", err)
	}
	conv.UpdatedAt = time.Now().UTC()
	tag, err := p.db.Exec(ctx,
		`UPDATE conversations SET
			contact_id = $2, team_id = $3, status = $4, locked = $5, assignee_id = $6,
			labels = $7, last_activity_at = $8, agent_last_seen_at = $9,
			contact_last_seen_at = $10, additional_attributes = $11, updated_at = $12
		 WHERE id = $1`,
		conv.ID, conv.ContactID, conv.TeamID, conv.Status, conv.Locked, conv.AssigneeID,
		textArray(conv.Labels), conv.LastActivityAt, nullableTime(conv.AgentLastSeenAt),
		nullableTime(conv.ContactLastSeenAt), attrs, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchConversationActivity(ctx context.Context, id string, at time.Time) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE conversations SET last_activity_at = $2 WHERE id = $1 AND last_activity_at < $2`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already newer; only the former is an error.
		var exists bool
		if err := p.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (p *Postgres) ListConversations(ctx context.Context, filter ConversationFilter) ([]models.Conversation, error) {
	where, args := buildConversationWhere(filter)
	sql := `SELECT ` + conversationColumns + ` FROM conversations ` + where +
		` ORDER BY last_activity_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	result := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	return result, rows.Err()
}

func (p *Postgres) CountConversations(ctx context.Context, filter ConversationFilter) (int, error) {
	where, args := buildConversationWhere(filter)
	var count int
	err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return count, nil
}

func buildConversationWhere(filter ConversationFilter) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.AccountID != "" {
		add("account_id = $%d", filter.AccountID)
	}
	if filter.InboxIDs != nil {
		add("inbox_id = ANY($%d)", textArray(filter.InboxIDs))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Unassigned {
		clauses = append(clauses, "assignee_id = ''")
	} else if filter.AssigneeID != "" {
		add("assignee_id = $%d", filter.AssigneeID)
	}
	if filter.TeamID != "" {
		add("team_id = $%d", filter.TeamID)
	}
	if len(filter.Labels) > 0 {
		add("labels && $%d", textArray(filter.Labels))
	}
	if len(clauses) == 0 {
		return "", args
	}
	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var (
		conv          models.Conversation
		labels        []string
		agentSeen     pgtype.Timestamptz
		contactSeen   pgtype.Timestamptz
		attrs         []byte
	)
	err := row.Scan(
		&conv.ID, &conv.AccountID, &conv.DisplayID, &conv.InboxID, &conv.ContactID,
		&conv.TeamID, &conv.Status, &conv.Locked, &conv.AssigneeID, &labels,
		&conv.LastActivityAt, &agentSeen, &contactSeen, &attrs,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, ErrNotFound
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	conv.Labels = labels
	conv.AgentLastSeenAt = agentSeen.Time
	conv.ContactLastSeenAt = contactSeen.Time
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &conv.AdditionalAttributes); err != nil {
			return models.Conversation{}, fmt.Errorf("parse additional attributes: %w", err)
		}
	}
	return conv, nil
}

// --- messages ---

const messageColumns = `id, account_id, inbox_id, conversation_id, type, content,
	content_type, status, private, sender_type, sender_id, sender_name, attachments, created_at`

func (p *Postgres) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		msg.ID, msg.AccountID, msg.InboxID, msg.ConversationID, msg.Type, msg.Content,
		msg.ContentType, msg.Status, msg.Private, msg.SenderType, msg.SenderID,
		msg.SenderName, attachments, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *Postgres) GetMessage(ctx context.Context, accountID, id string) (models.Message, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	return scanMessage(row)
}

func (p *Postgres) UpdateMessageStatus(ctx context.Context, id, status string) error {
	tag, err := p.db.Exec(ctx, `UPDATE messages SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return p.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`,
		conversationID)
}

func (p *Postgres) ListMessagesSince(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	return p.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND created_at >= $2 ORDER BY created_at ASC`,
		conversationID, since)
}

func (p *Postgres) queryMessages(ctx context.Context, sql string, args ...any) ([]models.Message, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	result := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (p *Postgres) CountMessagesByType(ctx context.Context, conversationID, messageType string) (int, error) {
	var count int
	err := p.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND type = $2`,
		conversationID, messageType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (p *Postgres) LastMessageOfType(ctx context.Context, conversationID, messageType string) (models.Message, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND type = $2 ORDER BY created_at DESC LIMIT 1`,
		conversationID, messageType,
	)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		msg         models.Message
		attachments []byte
	)
	err := row.Scan(
		&msg.ID, &msg.AccountID, &msg.InboxID, &msg.ConversationID, &msg.Type,
		&msg.Content, &msg.ContentType, &msg.Status, &msg.Private,
		&msg.SenderType, &msg.SenderID, &msg.SenderName, &attachments, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("scan message: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return models.Message{}, fmt.Errorf("parse attachments: %w", err)
		}
	}
	return msg, nil
}

// --- inboxes ---

const inboxColumns = `id, account_id, name, channel_type, auto_assignment,
	track_availability, greeting_enabled, greeting_message, out_of_office_message,
	email_collect_enabled, business_hours, messaging_window_seconds, bot_active, created_at`

func (p *Postgres) CreateInbox(ctx context.Context, inbox *models.Inbox) error {
	if inbox.ID == "" {
		inbox.ID = uuid.NewString()
	}
	if inbox.CreatedAt.IsZero() {
		inbox.CreatedAt = time.Now().UTC()
	}
	hours, err := json.Marshal(inbox.BusinessHours)
	if err != nil {
		return fmt.Errorf("marshal business hours: %w", err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO inboxes (`+inboxColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		inbox.ID, inbox.AccountID, inbox.Name, inbox.ChannelType, inbox.AutoAssignment,
		inbox.TrackAvailability, inbox.GreetingEnabled, inbox.GreetingMessage,
		inbox.OutOfOfficeMessage, inbox.EmailCollectEnabled, hours,
		int64(inbox.MessagingWindow/time.Second), inbox.BotActive, inbox.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inbox: %w", err)
	}
	return nil
}

func (p *Postgres) GetInbox(ctx context.Context, id string) (models.Inbox, error) {
	row := p.db.QueryRow(ctx, `SELECT `+inboxColumns+` FROM inboxes WHERE id = $1`, id)
	return scanInbox(row)
}

func (p *Postgres) ListInboxes(ctx context.Context, accountID string) ([]models.Inbox, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+inboxColumns+` FROM inboxes WHERE account_id = $1 ORDER BY created_at ASC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list inboxes: %w", err)
	}
	defer rows.Close()
	result := make([]models.Inbox, 0)
	for rows.Next() {
		inbox, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inbox)
	}
	return result, rows.Err()
}

func scanInbox(row rowScanner) (models.Inbox, error) {
	var (
		inbox       models.Inbox
		hours       []byte
		windowSecs  int64
	)
	err := row.Scan(
		&inbox.ID, &inbox.AccountID, &inbox.Name, &inbox.ChannelType,
		&inbox.AutoAssignment, &inbox.TrackAvailability, &inbox.GreetingEnabled,
		&inbox.GreetingMessage, &inbox.OutOfOfficeMessage, &inbox.EmailCollectEnabled,
		&hours, &windowSecs, &inbox.BotActive, &inbox.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Inbox{}, ErrNotFound
	}
	if err != nil {
		return models.Inbox{}, fmt.Errorf("scan inbox: %w", err)
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &inbox.BusinessHours); err != nil {
			return models.Inbox{}, fmt.Errorf("parse business hours: %w", err)
		}
	}
	inbox.MessagingWindow = time.Duration(windowSecs) * time.Second
	return inbox, nil
}

func (p *Postgres) AddInboxMember(ctx context.Context, inboxID, agentID string) (models.InboxMember, error) {
	var member models.InboxMember
	err := p.db.QueryRow(ctx,
		`INSERT INTO inbox_members (inbox_id, agent_id) VALUES ($1, $2)
		 RETURNING id, inbox_id, agent_id`,
		inboxID, agentID,
	).Scan(&member.ID, &member.InboxID, &member.AgentID)
	if err != nil {
		return models.InboxMember{}, fmt.Errorf("add inbox member: %w", err)
	}
	return member, nil
}

func (p *Postgres) ListInboxMembers(ctx context.Context, inboxID string) ([]models.InboxMember, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, inbox_id, agent_id FROM inbox_members WHERE inbox_id = $1 ORDER BY id ASC`,
		inboxID)
	if err != nil {
		return nil, fmt.Errorf("list inbox members: %w", err)
	}
	defer rows.Close()
	result := make([]models.InboxMember, 0)
	for rows.Next() {
		var member models.InboxMember
		if err := rows.Scan(&member.ID, &member.InboxID, &member.AgentID); err != nil {
			return nil, fmt.Errorf("scan inbox member: %w", err)
		}
		result = append(result, member)
	}
	return result, rows.Err()
}

func (p *Postgres) ListAgentInboxIDs(ctx context.Context, agentID string) ([]string, error) {
	rows, err := p.db.Query(ctx,
		`SELECT inbox_id FROM inbox_members WHERE agent_id = $1 ORDER BY id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent inboxes: %w", err)
	}
	defer rows.Close()
	result := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inbox id: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// --- agents ---

const agentColumns = `id, account_id, name, email, password_hash, role, created_at`

func (p *Postgres) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		agent.ID, agent.AccountID, agent.Name, agent.Email, agent.PasswordHash,
		agent.Role, agent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (p *Postgres) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	row := p.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (p *Postgres) GetAgentByEmail(ctx context.Context, email string) (models.Agent, error) {
	row := p.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE email = $1`, email)
	return scanAgent(row)
}

func (p *Postgres) ListAgents(ctx context.Context, accountID string) ([]models.Agent, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE account_id = $1 ORDER BY created_at ASC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	result := make([]models.Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, agent)
	}
	return result, rows.Err()
}

func scanAgent(row rowScanner) (models.Agent, error) {
	var agent models.Agent
	err := row.Scan(&agent.ID, &agent.AccountID, &agent.Name, &agent.Email,
		&agent.PasswordHash, &agent.Role, &agent.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Agent{}, ErrNotFound
	}
	if err != nil {
		return models.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	return agent, nil
}

// --- accounts ---

const accountColumns = `id, name, auto_resolve_seconds, webhook_urls, created_at`

func (p *Postgres) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1,$2,$3,$4,$5)`,
		account.ID, account.Name, int64(account.AutoResolveAfter/time.Second),
		textArray(account.WebhookURLs), account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (models.Account, error) {
	row := p.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (p *Postgres) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := p.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	result := make([]models.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, account)
	}
	return result, rows.Err()
}

func (p *Postgres) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		account     models.Account
		resolveSecs int64
		urls        []string
	)
	err := row.Scan(&account.ID, &account.Name, &resolveSecs, &urls, &account.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}
	account.AutoResolveAfter = time.Duration(resolveSecs) * time.Second
	account.WebhookURLs = urls
	return account, nil
}

// --- contacts ---

const contactColumns = `id, account_id, name, email, phone_number, created_at`

func (p *Postgres) CreateContact(ctx context.Context, contact *models.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO contacts (`+contactColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		contact.ID, contact.AccountID, contact.Name, contact.Email,
		contact.PhoneNumber, contact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (p *Postgres) GetContact(ctx context.Context, accountID, id string) (models.Contact, error) {
	var contact models.Contact
	err := p.db.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND account_id = $2`,
		id, accountID,
	).Scan(&contact.ID, &contact.AccountID, &contact.Name, &contact.Email,
		&contact.PhoneNumber, &contact.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Contact{}, ErrNotFound
	}
	if err != nil {
		return models.Contact{}, fmt.Errorf("scan contact: %w", err)
	}
	return contact, nil
}

func (p *Postgres) UpdateContact(ctx context.Context, contact *models.Contact) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE contacts SET name = $2, email = $3, phone_number = $4 WHERE id = $1`,
		contact.ID, contact.Name, contact.Email, contact.PhoneNumber,
	)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func nonNilAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}
