package types

import (
	"strings"
	"time"
)

// MakeOrderBookID normalizes an exchange instrument symbol into the
// canonical order book id used by the execution environment.
//
// CZCE codes contracts with a three-digit month ("TA909"); the canonical id
// carries a four-digit month, so a front-month marker "1" is inserted after
// the two-letter commodity code. Symbols with a four-digit month ("al2108")
// pass through unchanged. The result is uppercased.
//
// Returns "" when no id can be derived (symbol too short). The heuristic is
// known to be fragile for bare index symbols such as "cu88"; callers must
// treat "" and unknown ids defensively.
func MakeOrderBookID(symbol string) string {
	if len(symbol) < 4 {
		return ""
	}
	c := symbol[len(symbol)-4]
	if c < '0' || c > '9' {
		symbol = symbol[:2] + "1" + symbol[len(symbol)-3:]
	}
	return strings.ToUpper(symbol)
}

// MakeUnderlyingSymbol strips the month code from an instrument symbol,
// leaving the uppercased commodity code ("rb1910" -> "RB").
func MakeUnderlyingSymbol(symbol string) string {
	var b strings.Builder
	for _, r := range symbol {
		if r >= '0' && r <= '9' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// MakeTradingTime maps a calendar timestamp to the trading day it belongs
// to. Night-session trades (after 20:00) count towards the next trading day.
func MakeTradingTime(calendar time.Time) time.Time {
	if calendar.Hour() > 20 {
		return calendar.AddDate(0, 0, 1)
	}
	return calendar
}

// MakePositionEffect maps a gateway offset flag to the local position
// effect. Only SHFE and INE keep the close-today distinction; on other
// exchanges a close-today offset is a plain close.
func MakePositionEffect(exchange string, offset PositionEffect) PositionEffect {
	if offset == EffectOpen {
		return EffectOpen
	}
	if offset == EffectCloseToday && (exchange == ExchangeSHFE || exchange == ExchangeINE) {
		return EffectCloseToday
	}
	return EffectClose
}

// Exchange identifiers as delivered by the counter.
const (
	ExchangeSHFE  = "SHFE"
	ExchangeINE   = "INE"
	ExchangeDCE   = "DCE"
	ExchangeCZCE  = "CZCE"
	ExchangeCFFEX = "CFFEX"
)
