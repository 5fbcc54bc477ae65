// Package portfolio keeps the user's holdings, capital and daily snapshots.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"RotationSentinel/internal/id"
	"RotationSentinel/internal/model"
)

// ErrHoldingNotFound is returned when an ID matches no holding.
var ErrHoldingNotFound = errors.New("holding not found")

// Manager serializes all portfolio mutations and persists after each one.
type Manager struct {
	mu         sync.Mutex
	state      *model.Portfolio
	localPath  string
	mirrorPath string
	loc        *time.Location
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(m *Manager) { m.log = log } }

// WithLocation sets the calendar used for "today".
func WithLocation(loc *time.Location) Option { return func(m *Manager) { m.loc = loc } }

// NewManager loads state from disk. A fresh state gets the default allocation.
func NewManager(localPath, mirrorPath string, defaults model.StrategyConfig, opts ...Option) (*Manager, error) {
	state, err := LoadState(localPath, mirrorPath)
	if err != nil {
		return nil, err
	}
	if state.StrategyConfig == (model.StrategyConfig{}) {
		state.StrategyConfig = defaults
	}

	m := &Manager{
		state:      state,
		localPath:  localPath,
		mirrorPath: mirrorPath,
		loc:        time.FixedZone("CST", 8*3600),
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Portfolio returns a copy of the current state.
func (m *Manager) Portfolio() model.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *clonePortfolio(m.state)
}

// mutate applies fn to a copy of the state under the lock. The copy replaces
// the state only once it has been written to the local file.
func (m *Manager) mutate(fn func(p *model.Portfolio) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := clonePortfolio(m.state)
	if err := fn(next); err != nil {
		return err
	}
	err := SaveState(m.localPath, m.mirrorPath, next)
	switch {
	case errors.Is(err, ErrMirrorUnavailable):
		m.log.Warn().Err(err).Msg("portfolio saved locally only")
	case err != nil:
		m.log.Error().Err(err).Msg("failed to save portfolio")
		return err
	}
	m.state = next
	return nil
}

func clonePortfolio(src *model.Portfolio) *model.Portfolio {
	p := *src
	if src.Holdings != nil {
		p.Holdings = make([]model.Holding, len(src.Holdings))
		for i, h := range src.Holdings {
			h.CurrentPrice = cloneFloat(h.CurrentPrice)
			h.MarketValue = cloneFloat(h.MarketValue)
			p.Holdings[i] = h
		}
	}
	if src.Snapshots != nil {
		p.Snapshots = make([]model.DailySnapshot, len(src.Snapshots))
		for i, s := range src.Snapshots {
			if s.Holdings != nil {
				holdings := make([]model.HoldingSnapshot, len(s.Holdings))
				for j, h := range s.Holdings {
					h.ClosePrice = cloneFloat(h.ClosePrice)
					holdings[j] = h
				}
				s.Holdings = holdings
			}
			p.Snapshots[i] = s
		}
	}
	if src.LastUpdated != nil {
		t := *src.LastUpdated
		p.LastUpdated = &t
	}
	return &p
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func validateHolding(name string, shares int, cost float64) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: holding name is required", model.ErrInvalidConfiguration)
	}
	if shares <= 0 || cost <= 0 {
		return fmt.Errorf("%w: shares and cost price must be positive", model.ErrInvalidConfiguration)
	}
	return nil
}

// AddHolding adds a position. Buying more of a held name merges into it at
// the weighted-average cost.
func (m *Manager) AddHolding(name string, shares int, costPrice float64) (model.Holding, error) {
	name = strings.TrimSpace(name)
	if err := validateHolding(name, shares, costPrice); err != nil {
		return model.Holding{}, err
	}

	var out model.Holding
	err := m.mutate(func(p *model.Portfolio) error {
		for i := range p.Holdings {
			h := &p.Holdings[i]
			if h.Name != name {
				continue
			}
			total := h.Shares + shares
			h.CostPrice = (h.TotalCost() + float64(shares)*costPrice) / float64(total)
			h.Shares = total
			out = *h
			return nil
		}
		now := m.now()
		out = model.Holding{ID: id.NewAt(now), Name: name, Shares: shares, CostPrice: costPrice, AddedAt: now}
		p.Holdings = append(p.Holdings, out)
		return nil
	})
	if err == nil {
		m.log.Info().Str("holding", name).Int("shares", out.Shares).Float64("cost", out.CostPrice).Msg("holding saved")
	}
	return out, err
}

// UpdateHolding overwrites shares and cost of the holding with holdingID.
func (m *Manager) UpdateHolding(holdingID string, shares int, costPrice float64) error {
	return m.mutate(func(p *model.Portfolio) error {
		for i := range p.Holdings {
			if p.Holdings[i].ID == holdingID {
				if err := validateHolding(p.Holdings[i].Name, shares, costPrice); err != nil {
					return err
				}
				p.Holdings[i].Shares = shares
				p.Holdings[i].CostPrice = costPrice
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrHoldingNotFound, holdingID)
	})
}

// RemoveHolding deletes the holding with holdingID.
func (m *Manager) RemoveHolding(holdingID string) error {
	return m.mutate(func(p *model.Portfolio) error {
		for i := range p.Holdings {
			if p.Holdings[i].ID == holdingID {
				p.Holdings = append(p.Holdings[:i], p.Holdings[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrHoldingNotFound, holdingID)
	})
}

// SetTotalCapital records the account's total capital.
func (m *Manager) SetTotalCapital(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("%w: total capital must be non-negative", model.ErrInvalidConfiguration)
	}
	return m.mutate(func(p *model.Portfolio) error {
		p.TotalCapital = amount
		return nil
	})
}

// SetCashBalance records available cash.
func (m *Manager) SetCashBalance(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("%w: cash balance must be non-negative", model.ErrInvalidConfiguration)
	}
	return m.mutate(func(p *model.Portfolio) error {
		p.CashBalance = amount
		return nil
	})
}

// UpdateStrategyConfig replaces the allocation after validating it.
func (m *Manager) UpdateStrategyConfig(c model.StrategyConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return m.mutate(func(p *model.Portfolio) error {
		p.StrategyConfig = c
		return nil
	})
}

// MarkUpdated stamps the portfolio as reviewed now.
func (m *Manager) MarkUpdated() error {
	return m.mutate(func(p *model.Portfolio) error {
		t := m.now()
		p.LastUpdated = &t
		return nil
	})
}

// IsUpdatedToday reports whether the holdings were updated on today's market calendar day.
func (m *Manager) IsUpdatedToday() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.LastUpdated == nil {
		return false
	}
	return m.state.LastUpdated.In(m.loc).Format("2006-01-02") == m.Today()
}

// Today is the current market calendar date, 2006-01-02.
func (m *Manager) Today() string {
	return m.now().In(m.loc).Format("2006-01-02")
}

// Import replaces every holding with rows and applies the optional account
// totals, all in one write.
func (m *Manager) Import(rows []model.ImportRow, summary model.ImportSummary) error {
	for _, r := range rows {
		if err := validateHolding(r.Name, r.Shares, r.CostPrice); err != nil {
			return fmt.Errorf("import %q: %w", r.Name, err)
		}
	}
	err := m.mutate(func(p *model.Portfolio) error {
		now := m.now()
		holdings := make([]model.Holding, 0, len(rows))
		for _, r := range rows {
			holdings = append(holdings, model.Holding{
				ID:           id.NewAt(now),
				Name:         strings.TrimSpace(r.Name),
				Shares:       r.Shares,
				CostPrice:    r.CostPrice,
				AddedAt:      now,
				CurrentPrice: r.CurrentPrice,
				MarketValue:  r.MarketValue,
			})
		}
		p.Holdings = holdings
		if summary.TotalAssets != nil {
			p.TotalCapital = *summary.TotalAssets
		}
		if summary.CashBalance != nil {
			p.CashBalance = *summary.CashBalance
		}
		p.LastUpdated = &now
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info().Int("holdings", len(rows)).Msg("portfolio imported")
	return nil
}

// TakeSnapshot records holdings for date using the given closes (keyed by
// holding name). A snapshot for the same date is replaced. Snapshots are
// kept newest first.
func (m *Manager) TakeSnapshot(date string, closes map[string]float64) (model.DailySnapshot, error) {
	var snap model.DailySnapshot
	err := m.mutate(func(p *model.Portfolio) error {
		snap = model.DailySnapshot{
			Date:         date,
			Holdings:     make([]model.HoldingSnapshot, 0, len(p.Holdings)),
			TotalCapital: p.TotalCapital,
			CashBalance:  p.CashBalance,
		}
		for _, h := range p.Holdings {
			hs := model.HoldingSnapshot{Name: h.Name, Shares: h.Shares, CostPrice: h.CostPrice}
			if c, ok := closes[h.Name]; ok {
				hs.ClosePrice = &c
			}
			snap.Holdings = append(snap.Holdings, hs)
		}

		for i := range p.Snapshots {
			if p.Snapshots[i].Date == date {
				p.Snapshots[i] = snap
				return nil
			}
		}
		p.Snapshots = append(p.Snapshots, snap)
		sort.SliceStable(p.Snapshots, func(i, j int) bool { return p.Snapshots[i].Date > p.Snapshots[j].Date })
		return nil
	})
	return snap, err
}
