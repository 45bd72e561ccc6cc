package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the kinds of events the engine emits.
type EventType string

const (
	EventPriceUpdate     EventType = "price:update"
	EventSignalGenerated EventType = "signal:generated"
	EventTradeExecuted   EventType = "trade:executed"
	EventTradeClosed     EventType = "trade:closed"
	EventScalingUpdated  EventType = "scaling:updated"
	EventEmergencyStop   EventType = "bot:emergency_stop"
	EventError           EventType = "error"
)

// Severity classifies how urgently an event needs operator attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityCritical Severity = "critical"
)

// Event is a tagged payload delivered to subscribers.
type Event struct {
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Bus fans events out to per-topic subscriber channels. Publishing never
// blocks: a subscriber that falls behind loses events (counted in Dropped).
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]chan Event
	allSubs []chan Event
	dropped atomic.Uint64
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[EventType][]chan Event),
	}
}

// Subscribe returns a buffered channel receiving events of the given type.
func (b *Bus) Subscribe(eventType EventType, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	return ch
}

// SubscribeAll returns a buffered channel receiving every event.
func (b *Bus) SubscribeAll(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Type] {
		b.send(ch, event)
	}
	for _, ch := range b.allSubs {
		b.send(ch, event)
	}
}

func (b *Bus) send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to slow consumers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// PublishPriceUpdate publishes a price update event
func (b *Bus) PublishPriceUpdate(symbol string, price, volume float64) {
	b.Publish(Event{
		Type: EventPriceUpdate,
		Data: map[string]interface{}{
			"symbol": symbol,
			"price":  price,
			"volume": volume,
		},
	})
}

// PublishSignal publishes a signal generated event
func (b *Bus) PublishSignal(symbol, signalType, reason string, strength float64, authorized bool) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"signal_type": signalType,
			"reason":      reason,
			"strength":    strength,
			"authorized":  authorized,
		},
	})
}

// PublishTradeExecuted publishes a trade executed event
func (b *Bus) PublishTradeExecuted(symbol, side string, entryPrice float64, sizeUSD, stopLoss, takeProfit string) {
	b.Publish(Event{
		Type: EventTradeExecuted,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"size_usd":    sizeUSD,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (b *Bus) PublishTradeClosed(symbol, side string, exitPrice float64, profit, reason string) {
	b.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"side":       side,
			"exit_price": exitPrice,
			"profit":     profit,
			"reason":     reason,
		},
	})
}

// PublishScalingUpdated publishes a scaling state change event
func (b *Bus) PublishScalingUpdated(tier int, sizeUSD string, wins, losses int) {
	b.Publish(Event{
		Type: EventScalingUpdated,
		Data: map[string]interface{}{
			"tier":               tier,
			"size_usd":           sizeUSD,
			"consecutive_wins":   wins,
			"consecutive_losses": losses,
		},
	})
}

// PublishEmergencyStop publishes an emergency stop event
func (b *Bus) PublishEmergencyStop(reason string) {
	b.Publish(Event{
		Type:     EventEmergencyStop,
		Severity: SeverityCritical,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, severity Severity, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type:     EventError,
		Severity: severity,
		Data:     data,
	})
}
