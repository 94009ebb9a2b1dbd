// Package kvstore provides the TTL key-value collaborator used for mute
// flags, presence, digest coalescing and round-robin cursors.
package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the key-value contract the core consumes. Expiry is the sole
// lifecycle end for transient records; there is no explicit cancellation.
type Store interface {
	// Get returns the value and whether the key exists and is unexpired.
	Get(ctx context.Context, key string) (string, bool)
	// SetEx stores the value with a ttl. A non-positive ttl stores without expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration)
	// SetNX stores the value only when the key is absent; reports whether it stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) bool
	// Delete removes the key.
	Delete(ctx context.Context, key string)
}

// Key builders shared by the services that coordinate through the store.

// MuteKey suppresses reopen and repeat-mail behaviour for a conversation.
func MuteKey(conversationID string) string {
	return fmt.Sprintf("mute:conversation:%s", conversationID)
}

// DigestPendingKey coalesces outgoing-message digest mail per conversation.
func DigestPendingKey(conversationID string) string {
	return fmt.Sprintf("digest:pending:%s", conversationID)
}

// DigestLastSentKey records when the previous digest for a conversation went out.
func DigestLastSentKey(conversationID string) string {
	return fmt.Sprintf("digest:last_sent:%s", conversationID)
}

// PresenceKey tracks agent online status.
func PresenceKey(agentID string) string {
	return fmt.Sprintf("presence:agent:%s", agentID)
}

// RoundRobinKey holds the per-inbox rotation cursor (last assigned agent id).
func RoundRobinKey(inboxID string) string {
	return fmt.Sprintf("round_robin:inbox:%s", inboxID)
}

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory is the in-process Store implementation. Expiry is lazy: expired
// entries are dropped on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an in-process key-value store.
func NewMemory() *Memory {
	return &Memory{
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if m.expired(e) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) SetEx(_ context.Context, key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.makeEntry(value, ttl)
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && !m.expired(e) {
		return false
	}
	m.entries[key] = m.makeEntry(value, ttl)
	return true
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) makeEntry(value string, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}

func (m *Memory) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
