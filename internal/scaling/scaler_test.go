package scaling

import (
	"testing"

	"github.com/shopspring/decimal"
)

func newTestScaler(initial int64) *Scaler {
	return New(Config{
		InitialSize: decimal.NewFromInt(initial),
		MinSize:     decimal.NewFromInt(1),
		MaxSize:     decimal.NewFromInt(1000),
	})
}

func TestTierBands(t *testing.T) {
	cases := []struct {
		size int64
		tier int
	}{
		{1, 1}, {4, 1}, {5, 2}, {24, 2}, {25, 3}, {49, 3},
		{50, 4}, {99, 4}, {100, 5}, {499, 5}, {500, 6}, {900, 6},
	}
	for _, tc := range cases {
		if got := tierFor(decimal.NewFromInt(tc.size)); got != tc.tier {
			t.Errorf("tierFor(%d) = %d, want %d", tc.size, got, tc.tier)
		}
	}
}

func TestThreeWinsDoubleSize(t *testing.T) {
	s := newTestScaler(10)

	s.RecordWin()
	s.RecordWin()
	if got := s.State().SizeUSD; !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("size after 2 wins = %s, want unchanged 10", got)
	}

	state := s.RecordWin()
	if !state.SizeUSD.Equal(decimal.NewFromInt(20)) {
		t.Errorf("size after 3 wins = %s, want 20", state.SizeUSD)
	}
	if state.Tier != 2 {
		t.Errorf("tier = %d, want 2", state.Tier)
	}
}

func TestFiveWinsTripleSize(t *testing.T) {
	s := newTestScaler(10)
	for i := 0; i < 4; i++ {
		s.RecordWin()
	}
	before := s.State().SizeUSD

	state := s.RecordWin()
	if !state.SizeUSD.Equal(before.Mul(decimal.NewFromInt(3))) {
		t.Errorf("size after 5th win = %s, want %s tripled", state.SizeUSD, before)
	}
}

func TestTwoLossesHalveSize(t *testing.T) {
	s := newTestScaler(40)

	s.RecordLoss()
	if got := s.State().SizeUSD; !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("size after 1 loss = %s, want unchanged 40", got)
	}

	state := s.RecordLoss()
	if !state.SizeUSD.Equal(decimal.NewFromInt(20)) {
		t.Errorf("size after 2 losses = %s, want 20", state.SizeUSD)
	}
}

func TestLossFlooredAtMinSize(t *testing.T) {
	s := newTestScaler(2)
	for i := 0; i < 6; i++ {
		s.RecordLoss()
	}
	if got := s.State().SizeUSD; !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("size = %s, want floored at 1", got)
	}
}

func TestWinClampedAtMaxSize(t *testing.T) {
	s := New(Config{
		InitialSize: decimal.NewFromInt(400),
		MinSize:     decimal.NewFromInt(1),
		MaxSize:     decimal.NewFromInt(500),
	})
	for i := 0; i < 6; i++ {
		s.RecordWin()
	}
	state := s.State()
	if !state.SizeUSD.Equal(decimal.NewFromInt(500)) {
		t.Errorf("size = %s, want clamped at 500", state.SizeUSD)
	}
	if state.Tier != 6 {
		t.Errorf("tier = %d, want 6", state.Tier)
	}
	if state.NextTierTarget != 0 {
		t.Errorf("next tier target = %d, want 0 at max tier", state.NextTierTarget)
	}
}

func TestStreaksAreMutuallyExclusive(t *testing.T) {
	s := newTestScaler(10)

	s.RecordWin()
	s.RecordWin()
	state := s.RecordLoss()
	if state.ConsecutiveWins != 0 || state.ConsecutiveLosses != 1 {
		t.Errorf("after loss: wins=%d losses=%d, want 0/1", state.ConsecutiveWins, state.ConsecutiveLosses)
	}

	state = s.RecordWin()
	if state.ConsecutiveWins != 1 || state.ConsecutiveLosses != 0 {
		t.Errorf("after win: wins=%d losses=%d, want 1/0", state.ConsecutiveWins, state.ConsecutiveLosses)
	}
}

func TestNextTierTargetCountsWins(t *testing.T) {
	s := newTestScaler(10)
	if got := s.State().NextTierTarget; got <= 0 {
		t.Errorf("next tier target = %d, want > 0 below max tier", got)
	}
}

func TestEmergencyScaleDown(t *testing.T) {
	s := newTestScaler(200)
	s.RecordWin()
	s.RecordWin()

	state := s.EmergencyScaleDown()
	if !state.SizeUSD.Equal(decimal.NewFromInt(1)) {
		t.Errorf("size = %s, want floor 1", state.SizeUSD)
	}
	if state.ConsecutiveWins != 0 || state.ConsecutiveLosses != 0 {
		t.Error("streaks must reset on emergency scale-down")
	}
	if state.Tier != 1 {
		t.Errorf("tier = %d, want 1", state.Tier)
	}
}
