package event

import (
	"log"
	"time"
)

// PhasePublisher emits BEFORE_TRADING and AFTER_TRADING from wall-clock
// time, at most once per trading day each. It runs on the execution
// goroutine, driven by the bridge's idle heartbeat, so phase transitions
// happen even when no gateway events arrive.
type PhasePublisher struct {
	bus          *Bus
	loc          *time.Location
	nightTrading bool

	lastBefore string // trading date (yyyy-mm-dd) of the last BEFORE_TRADING
	lastAfter  string
}

// NewPhasePublisher creates a publisher for the given timezone.
// nightTrading enables the 21:00 night session window.
func NewPhasePublisher(bus *Bus, loc *time.Location, nightTrading bool) *PhasePublisher {
	return &PhasePublisher{bus: bus, loc: loc, nightTrading: nightTrading}
}

// tradingDate maps a wall-clock instant to the trading day it belongs to,
// on the same after-20:00 boundary as types.MakeTradingTime.
func (p *PhasePublisher) tradingDate(now time.Time) string {
	if now.Hour() > 20 {
		now = now.AddDate(0, 0, 1)
	}
	return now.Format("2006-01-02")
}

// PublishIfNeeded checks the clock and emits the phase transition that is
// due, if any.
func (p *PhasePublisher) PublishIfNeeded(now time.Time) {
	now = now.In(p.loc)
	hour := now.Hour()

	if !p.nightTrading && hour > 20 {
		return
	}

	td := p.tradingDate(now)
	if td == p.lastAfter {
		// trading day fully processed
		return
	}
	if td == p.lastBefore {
		// session opened; close it after the day session ends
		if hour >= 16 && hour < 20 {
			p.lastAfter = td
			log.Printf("[Phase] after_trading %s", td)
			p.bus.Publish(Event{Type: AfterTrading, Time: now})
		}
		return
	}
	if hour > 20 || (hour >= 8 && hour < 16) {
		p.lastBefore = td
		log.Printf("[Phase] before_trading %s", td)
		p.bus.Publish(Event{Type: BeforeTrading, Time: now})
	}
}
