package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// Catalogue is the explicit set of strategies available to the optimizer and
// dispatcher. It is safe for concurrent use.
type Catalogue struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewCatalogue returns a catalogue holding the given strategies.
func NewCatalogue(strategies ...Strategy) *Catalogue {
	c := &Catalogue{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		c.Register(s)
	}
	return c
}

// Builtin returns a catalogue with every strategy shipped in this package.
func Builtin() *Catalogue {
	return NewCatalogue(SMACrossover{}, RSIReversion{}, DonchianBreakout{})
}

// Register adds s under its name, replacing any previous entry.
func (c *Catalogue) Register(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[s.Name()] = s
}

// Get retrieves a strategy by name.
func (c *Catalogue) Get(name string) (Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrUnknownStrategy)
	}
	return s, nil
}

// List returns the names of all strategies in sorted order.
func (c *Catalogue) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.strategies))
	for n := range c.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select resolves a strategy name, or every strategy when name is empty or
// "all". The result is in name order.
func (c *Catalogue) Select(name string) ([]Strategy, error) {
	name = strings.TrimSpace(name)
	if name != "" && name != "all" {
		s, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		return []Strategy{s}, nil
	}
	names := c.List()
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		s, err := c.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
