package scaling

import (
	"sync"

	"github.com/shopspring/decimal"
)

// State is the streak-driven sizing state. It is mutated only after a
// position closes, never mid-trade.
type State struct {
	Tier              int             `json:"tier"` // 1..6
	SizeUSD           decimal.Decimal `json:"size_usd"`
	NextTierTarget    int             `json:"next_tier_target"` // wins until the next band, 0 at max tier
	ConsecutiveWins   int             `json:"consecutive_wins"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
}

// Config bounds the size adjustments.
type Config struct {
	InitialSize decimal.Decimal
	MinSize     decimal.Decimal
	MaxSize     decimal.Decimal
}

// tierBands holds the inclusive lower bound of each tier's USD band.
// A size belongs to the highest band whose bound it reaches.
var tierBands = []struct {
	lower decimal.Decimal
	tier  int
}{
	{decimal.NewFromInt(500), 6},
	{decimal.NewFromInt(100), 5},
	{decimal.NewFromInt(50), 4},
	{decimal.NewFromInt(25), 3},
	{decimal.NewFromInt(5), 2},
	{decimal.NewFromInt(1), 1},
}

const maxTier = 6

var (
	two   = decimal.NewFromInt(2)
	three = decimal.NewFromInt(3)
)

// Scaler adjusts position size from win/loss streaks.
type Scaler struct {
	mu    sync.Mutex
	state State
	cfg   Config
}

// New creates a scaler. The initial size is clamped into [MinSize, MaxSize].
func New(cfg Config) *Scaler {
	if cfg.MinSize.IsZero() {
		cfg.MinSize = decimal.NewFromInt(1)
	}
	if cfg.MaxSize.IsZero() {
		cfg.MaxSize = decimal.NewFromInt(1000)
	}
	if cfg.InitialSize.IsZero() {
		cfg.InitialSize = cfg.MinSize
	}

	s := &Scaler{cfg: cfg}
	s.state.SizeUSD = clampDecimal(cfg.InitialSize, cfg.MinSize, cfg.MaxSize)
	s.retier()
	return s
}

// State returns a copy of the current scaling state.
func (s *Scaler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordWin advances the win streak and applies streak-based size
// increases: double at three straight wins, triple at five.
func (s *Scaler) RecordWin() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ConsecutiveWins++
	s.state.ConsecutiveLosses = 0

	switch {
	case s.state.ConsecutiveWins >= 5:
		s.state.SizeUSD = s.state.SizeUSD.Mul(three)
	case s.state.ConsecutiveWins >= 3:
		s.state.SizeUSD = s.state.SizeUSD.Mul(two)
	}

	s.state.SizeUSD = clampDecimal(s.state.SizeUSD, s.cfg.MinSize, s.cfg.MaxSize)
	s.retier()
	return s.state
}

// RecordLoss advances the loss streak and halves the size after two
// straight losses, floored at MinSize.
func (s *Scaler) RecordLoss() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ConsecutiveLosses++
	s.state.ConsecutiveWins = 0

	if s.state.ConsecutiveLosses >= 2 {
		s.state.SizeUSD = s.state.SizeUSD.Div(two)
	}

	s.state.SizeUSD = clampDecimal(s.state.SizeUSD, s.cfg.MinSize, s.cfg.MaxSize)
	s.retier()
	return s.state
}

// EmergencyScaleDown drops the size back to the floor and clears both
// streaks. Used by the emergency-stop path.
func (s *Scaler) EmergencyScaleDown() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SizeUSD = s.cfg.MinSize
	s.state.ConsecutiveWins = 0
	s.state.ConsecutiveLosses = 0
	s.retier()
	return s.state
}

// retier recomputes the tier from the USD bands and the win distance to
// the next band. Caller must hold s.mu.
func (s *Scaler) retier() {
	s.state.Tier = tierFor(s.state.SizeUSD)
	s.state.NextTierTarget = s.winsToNextTier()
}

func tierFor(size decimal.Decimal) int {
	for _, band := range tierBands {
		if size.GreaterThanOrEqual(band.lower) {
			return band.tier
		}
	}
	return 1
}

// winsToNextTier simulates the win rule forward until the size crosses
// into the next band. Caller must hold s.mu.
func (s *Scaler) winsToNextTier() int {
	if s.state.Tier >= maxTier {
		return 0
	}

	size := s.state.SizeUSD
	wins := s.state.ConsecutiveWins
	current := s.state.Tier

	for n := 1; n <= 10; n++ {
		wins++
		switch {
		case wins >= 5:
			size = size.Mul(three)
		case wins >= 3:
			size = size.Mul(two)
		}
		size = clampDecimal(size, s.cfg.MinSize, s.cfg.MaxSize)
		if tierFor(size) > current {
			return n
		}
	}
	return 10
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
