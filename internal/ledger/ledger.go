// Package ledger settles trade funds and cargo for agents.
// Memory is an in-process reference ledger; real deployments plug in their own.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientResources is returned when an agent lacks the credits,
	// cargo space or cargo a trade needs.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrUnknownAgent is returned for agents with no account.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Settlement describes one trade from the agent's side.
type Settlement struct {
	Agent       string
	StationID   string
	CommodityID string
	Quantity    int
	Total       decimal.Decimal // Credits moved
	IsBuy       bool            // Agent buys from the station
}

// Ledger checks and moves funds and cargo. Settle is all-or-nothing: on
// error nothing has changed.
type Ledger interface {
	Settle(ctx context.Context, s Settlement) error
}

// Account is one agent's wallet and hold.
type Account struct {
	Credits  decimal.Decimal
	Capacity int            // Max cargo units
	Cargo    map[string]int // Commodity id → units
}

func (a *Account) used() int {
	n := 0
	for _, q := range a.Cargo {
		n += q
	}
	return n
}

// Memory is a thread-safe in-memory Ledger.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]*Account)}
}

// Open creates or replaces an account.
func (m *Memory) Open(agent string, credits decimal.Decimal, capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[agent] = &Account{Credits: credits, Capacity: capacity, Cargo: make(map[string]int)}
}

// Stow puts cargo in an agent's hold without payment (starting cargo, salvage).
func (m *Memory) Stow(agent, commodityID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[agent]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
	}
	if a.used()+qty > a.Capacity {
		return fmt.Errorf("%w: hold full", ErrInsufficientResources)
	}
	a.Cargo[commodityID] += qty
	return nil
}

// Balance returns an agent's credits.
func (m *Memory) Balance(agent string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[agent]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
	}
	return a.Credits, nil
}

// Cargo returns how many units of a commodity an agent holds.
func (m *Memory) Cargo(agent, commodityID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[agent]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
	}
	return a.Cargo[commodityID], nil
}

// Settle implements Ledger.
func (m *Memory) Settle(ctx context.Context, s Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[s.Agent]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, s.Agent)
	}

	if s.IsBuy {
		if a.Credits.LessThan(s.Total) {
			return fmt.Errorf("%w: need %s credits, have %s", ErrInsufficientResources, s.Total.StringFixed(2), a.Credits.StringFixed(2))
		}
		if a.used()+s.Quantity > a.Capacity {
			return fmt.Errorf("%w: %d units exceed free hold %d", ErrInsufficientResources, s.Quantity, a.Capacity-a.used())
		}
		a.Credits = a.Credits.Sub(s.Total)
		a.Cargo[s.CommodityID] += s.Quantity
		return nil
	}

	if a.Cargo[s.CommodityID] < s.Quantity {
		return fmt.Errorf("%w: hold has %d %s, selling %d", ErrInsufficientResources, a.Cargo[s.CommodityID], s.CommodityID, s.Quantity)
	}
	a.Cargo[s.CommodityID] -= s.Quantity
	if a.Cargo[s.CommodityID] == 0 {
		delete(a.Cargo, s.CommodityID)
	}
	a.Credits = a.Credits.Add(s.Total)
	return nil
}
