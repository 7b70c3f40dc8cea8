package ai

import (
	"fmt"
	"sync"
)

// BudgetChecker checks and records token usage against a per-session budget.
type BudgetChecker interface {
	// Check returns true if the session has budget remaining.
	Check(sessionKey string) (bool, error)
	// Record adds token usage to the session.
	Record(sessionKey string, tokens int) error
	// Usage returns current usage and the limit (0 = unlimited).
	Usage(sessionKey string) (used int64, limit int64, err error)
}

// InMemoryBudget tracks token usage per session in process memory. Every
// session gets the same limit; a limit of 0 disables the check.
type InMemoryBudget struct {
	mu    sync.RWMutex
	limit int64
	usage map[string]int64
}

// NewInMemoryBudget creates a budget tracker with the given per-session limit.
func NewInMemoryBudget(limit int64) *InMemoryBudget {
	return &InMemoryBudget{
		limit: limit,
		usage: make(map[string]int64),
	}
}

func (b *InMemoryBudget) Check(sessionKey string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[sessionKey] < b.limit, nil
}

func (b *InMemoryBudget) Record(sessionKey string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage[sessionKey] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(sessionKey string) (int64, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[sessionKey], b.limit, nil
}

// Reset forgets the usage recorded for a session.
func (b *InMemoryBudget) Reset(sessionKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.usage, sessionKey)
}
