// Package ledger holds the balances that claims settle against.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Checker-Finance/auction/pkg/model"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

func validate(from, to model.Identity, amount int64) error {
	switch {
	case from.IsNone() || to.IsNone():
		return fmt.Errorf("%w: missing identity", ErrInvalidTransfer)
	case amount < 0:
		return fmt.Errorf("%w: negative amount %d", ErrInvalidTransfer, amount)
	}
	return nil
}

// Memory is a process-local ledger. Identities it has not seen yet start at
// the initial balance.
type Memory struct {
	mu       sync.Mutex
	initial  int64
	balances map[model.Identity]int64
}

func NewMemory(initial int64) *Memory {
	return &Memory{initial: initial, balances: make(map[model.Identity]int64)}
}

func (m *Memory) get(id model.Identity) int64 {
	if b, ok := m.balances[id]; ok {
		return b
	}
	return m.initial
}

// Transfer debits from and credits to atomically.
func (m *Memory) Transfer(_ context.Context, from, to model.Identity, amount int64) error {
	if err := validate(from, to, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	have := m.get(from)
	if have < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, have, amount)
	}
	m.balances[from] = have - amount
	m.balances[to] = m.get(to) + amount
	return nil
}

// Deposit credits id with amount.
func (m *Memory) Deposit(_ context.Context, id model.Identity, amount int64) error {
	if id.IsNone() || amount < 0 {
		return fmt.Errorf("%w: deposit %d to %q", ErrInvalidTransfer, amount, id)
	}
	m.mu.Lock()
	m.balances[id] = m.get(id) + amount
	m.mu.Unlock()
	return nil
}

func (m *Memory) Balance(_ context.Context, id model.Identity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id), nil
}
