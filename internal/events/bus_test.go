package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(EventSignalGenerated, 4)

	bus.PublishSignal("BTCUSDT", "BUY", "test", 82.5, true)

	select {
	case ev := <-ch:
		if ev.Type != EventSignalGenerated {
			t.Errorf("expected %s, got %s", EventSignalGenerated, ev.Type)
		}
		if ev.Data["signal_type"] != "BUY" {
			t.Errorf("expected BUY, got %v", ev.Data["signal_type"])
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp should be set on publish")
		}
		if ev.Severity != SeverityInfo {
			t.Errorf("default severity should be info, got %s", ev.Severity)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestSubscriberOnlyGetsItsTopic(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(EventTradeClosed, 4)

	bus.PublishPriceUpdate("BTCUSDT", 100, 1)

	select {
	case ev := <-ch:
		t.Errorf("unexpected event %s on trade:closed topic", ev.Type)
	default:
	}
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus()
	ch := bus.SubscribeAll(8)

	bus.PublishPriceUpdate("BTCUSDT", 100, 1)
	bus.PublishEmergencyStop("manual")

	if len(ch) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(ch))
	}
	first := <-ch
	second := <-ch
	if first.Type != EventPriceUpdate || second.Type != EventEmergencyStop {
		t.Errorf("unexpected order: %s, %s", first.Type, second.Type)
	}
	if second.Severity != SeverityCritical {
		t.Errorf("emergency stop should be critical, got %s", second.Severity)
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(EventPriceUpdate, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.PublishPriceUpdate("BTCUSDT", float64(100 + i), 1)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}

	if bus.Dropped() != 9 {
		t.Errorf("expected 9 dropped events, got %d", bus.Dropped())
	}
}
