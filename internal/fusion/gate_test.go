package fusion

import (
	"testing"
	"time"

	"trading-engine/internal/analysis"
	"trading-engine/internal/predictor"
)

func buySignal(strength float64) Signal {
	return Signal{Type: SignalBuy, Strength: strength, Reason: "test"}
}

func upPrediction(confidence float64) predictor.Prediction {
	return predictor.Prediction{Direction: predictor.DirectionUp, Confidence: confidence}
}

func newTestGate(start time.Time) (*Gate, *time.Time) {
	clock := start
	g := NewGate()
	g.now = func() time.Time { return clock }
	return g, &clock
}

func TestAgreementBoostsStrength(t *testing.T) {
	g, _ := newTestGate(time.Now())
	decision := g.Evaluate(buySignal(65), upPrediction(85))

	// 0.4*65 + 0.6*85 + 15 agreement + 10 high-confidence = 102, capped.
	if decision.Signal.Strength != 100 {
		t.Errorf("strength = %v, want capped 100", decision.Signal.Strength)
	}
	if decision.Signal.Type != SignalBuy {
		t.Errorf("type = %s, want BUY", decision.Signal.Type)
	}
	if !decision.Authorized {
		t.Error("strong agreement should authorize")
	}
}

func TestLowConfidencePredictionIgnored(t *testing.T) {
	g, _ := newTestGate(time.Now())
	decision := g.Evaluate(buySignal(75), upPrediction(60))

	// Prediction below the floor: technical stands alone, no bonuses.
	if decision.Signal.Strength != 75 {
		t.Errorf("strength = %v, want 75", decision.Signal.Strength)
	}
	if !decision.Authorized {
		t.Error("75 clears the trade gate")
	}
}

func TestDisagreementStrongerWins(t *testing.T) {
	g, _ := newTestGate(time.Now())
	pred := predictor.Prediction{Direction: predictor.DirectionDown, Confidence: 90}
	decision := g.Evaluate(buySignal(50), pred)

	if decision.Signal.Type != SignalSell {
		t.Errorf("type = %s, want SELL (prediction stronger)", decision.Signal.Type)
	}
	// 90 + 10 high-confidence aligned bonus.
	if decision.Signal.Strength != 100 {
		t.Errorf("strength = %v, want 100", decision.Signal.Strength)
	}
}

func TestWeakSignalEmittedNotAuthorized(t *testing.T) {
	g, _ := newTestGate(time.Now())
	decision := g.Evaluate(buySignal(40), predictor.Prediction{Direction: predictor.DirectionSideways, Confidence: 40})

	if decision.Authorized {
		t.Error("strength below 70 must not authorize")
	}
	if decision.Signal.Type != SignalBuy {
		t.Errorf("weak signal still emitted, got type %s", decision.Signal.Type)
	}
}

func TestHoldWhenNoInput(t *testing.T) {
	g, _ := newTestGate(time.Now())
	decision := g.Evaluate(Signal{Type: SignalHold}, predictor.Prediction{Direction: predictor.DirectionSideways, Confidence: 40})

	if decision.Signal.Type != SignalHold || decision.Authorized {
		t.Errorf("decision = %+v, want unauthorized HOLD", decision)
	}
}

func TestMinimumEvaluationInterval(t *testing.T) {
	g, clock := newTestGate(time.Now())

	first := g.Evaluate(buySignal(80), upPrediction(85))
	if !first.Authorized {
		t.Fatal("first evaluation should authorize")
	}

	*clock = clock.Add(10 * time.Second)
	second := g.Evaluate(buySignal(80), upPrediction(85))
	if second.Authorized {
		t.Error("evaluation inside 30s must be suppressed")
	}
	if second.SuppressReason == "" {
		t.Error("suppression must carry a reason")
	}

	*clock = clock.Add(25 * time.Second)
	third := g.Evaluate(buySignal(80), upPrediction(85))
	if !third.Authorized {
		t.Error("evaluation after the interval should authorize")
	}
}

func TestHourlyTradeCap(t *testing.T) {
	g, clock := newTestGate(time.Now())

	authorized := 0
	for i := 0; i < 11; i++ {
		decision := g.Evaluate(buySignal(80), upPrediction(85))
		if decision.Authorized {
			authorized++
		} else if i == 10 && decision.SuppressReason == "" {
			t.Error("11th signal must carry a suppression reason")
		}
		*clock = clock.Add(31 * time.Second)
	}
	if authorized != 10 {
		t.Errorf("authorized = %d, want exactly 10 per rolling hour", authorized)
	}

	// Window slides: an hour later trading resumes.
	*clock = clock.Add(time.Hour)
	if decision := g.Evaluate(buySignal(80), upPrediction(85)); !decision.Authorized {
		t.Error("trading should resume once the window slides")
	}
}

func TestCapSuppressionDoesNotResetInterval(t *testing.T) {
	start := time.Now()
	g, clock := newTestGate(start)

	// Fill the hourly cap: authorizations at t0, t0+31s, ... t0+279s.
	for i := 0; i < 10; i++ {
		if decision := g.Evaluate(buySignal(80), upPrediction(85)); !decision.Authorized {
			t.Fatalf("authorization %d suppressed unexpectedly", i)
		}
		*clock = clock.Add(31 * time.Second)
	}

	// t0+3590s: the first authorization is still inside the rolling
	// hour, so the cap suppresses this attempt.
	*clock = start.Add(3590 * time.Second)
	if decision := g.Evaluate(buySignal(80), upPrediction(85)); decision.SuppressReason != "hourly trade cap reached" {
		t.Fatalf("suppress reason = %q, want hourly cap", decision.SuppressReason)
	}

	// t0+3605s: the window has slid past the first authorization. Only
	// 15s have passed since the cap-suppressed attempt, but that attempt
	// must not have restarted the 30s interval; the last authorization
	// is nearly an hour back, so this one goes through.
	*clock = start.Add(3605 * time.Second)
	if decision := g.Evaluate(buySignal(80), upPrediction(85)); !decision.Authorized {
		t.Errorf("decision = %+v, want authorized once the window slides", decision)
	}
}

func TestFromSentiment(t *testing.T) {
	sig := FromSentiment(analysis.SentimentResult{Score: -45, Direction: "bearish", Strength: "moderate"})
	if sig.Type != SignalSell {
		t.Errorf("type = %s, want SELL", sig.Type)
	}
	if sig.Strength != 45 {
		t.Errorf("strength = %v, want 45", sig.Strength)
	}

	hold := FromSentiment(analysis.SentimentResult{Score: 5, Direction: "neutral"})
	if hold.Type != SignalHold {
		t.Errorf("type = %s, want HOLD", hold.Type)
	}
}
