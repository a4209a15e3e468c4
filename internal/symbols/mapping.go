// Package symbols translates canonical BASE/QUOTE symbols to each exchange's
// native instrument names and back.
package symbols

import (
	"strings"

	"arbwatch/internal/model"
)

// defaultKrakenAliases holds pairs Kraken names differently from the generic rule.
var defaultKrakenAliases = map[string]string{
	"BTC/USDT": "XBT/USDT",
	"ETH/USDT": "ETH/USDT",
	"SOL/USDT": "SOL/USDT",
	"XRP/USDT": "XRP/USDT",
	"ADA/USDT": "ADA/USDT",
}

// Overrides maps exchange -> canonical symbol -> native symbol.
type Overrides map[string]map[string]string

// Mapping is immutable after construction and safe for concurrent use.
type Mapping struct {
	overrides Overrides
}

// NewMapping copies the override table so later changes by the caller have no effect.
func NewMapping(overrides Overrides) *Mapping {
	cp := make(Overrides, len(overrides))
	for exchange, table := range overrides {
		t := make(map[string]string, len(table))
		for canonical, native := range table {
			t[canonical] = native
		}
		cp[exchange] = t
	}
	return &Mapping{overrides: cp}
}

// ToNative returns the exchange's identifier for a canonical symbol.
func (m *Mapping) ToNative(exchange, canonical string) string {
	if native, ok := m.overrides[exchange][canonical]; ok && native != "" {
		return native
	}
	switch exchange {
	case model.Binance:
		return strings.ReplaceAll(canonical, "/", "")
	case model.Kraken:
		if alias, ok := defaultKrakenAliases[canonical]; ok {
			return alias
		}
		base, quote, found := strings.Cut(canonical, "/")
		if !found {
			return canonical
		}
		if base == "BTC" {
			base = "XBT"
		}
		return base + "/" + quote
	default:
		return canonical
	}
}

// SubscriptionMap returns, per exchange, canonical -> native for every watch-list entry.
func (m *Mapping) SubscriptionMap(watchlist []string) map[string]map[string]string {
	out := map[string]map[string]string{
		model.Binance: make(map[string]string, len(watchlist)),
		model.Kraken:  make(map[string]string, len(watchlist)),
	}
	for exchange, table := range out {
		for _, symbol := range watchlist {
			table[symbol] = m.ToNative(exchange, symbol)
		}
	}
	return out
}

// Reverse resolves native symbols of one exchange back to canonical symbols.
type Reverse struct {
	foldCase bool
	index    map[string]string
}

// NewReverse builds the reverse index from a canonical -> native map.
// Binance lookups ignore case because stream payloads use upper case while
// stream names use lower case.
func NewReverse(exchange string, forward map[string]string) *Reverse {
	r := &Reverse{
		foldCase: exchange == model.Binance,
		index:    make(map[string]string, len(forward)),
	}
	for canonical, native := range forward {
		r.index[r.key(native)] = canonical
	}
	return r
}

// Lookup returns the canonical symbol for native, or false if it is not subscribed.
func (r *Reverse) Lookup(native string) (string, bool) {
	canonical, ok := r.index[r.key(native)]
	return canonical, ok
}

func (r *Reverse) key(native string) string {
	if r.foldCase {
		return strings.ToUpper(native)
	}
	return native
}
