// Package state holds the latest quotes and connection status of every exchange.
package state

import (
	"sync"

	"arbwatch/internal/model"
)

// Store is the shared view written by collectors and read by the snapshot loop
// and the API. A single lock guards both maps and is never held across I/O.
type Store struct {
	mu     sync.RWMutex
	prices map[string]map[string]model.Price
	status map[string]model.ConnectionStatus
}

// New creates an empty store with a disconnected status entry per exchange.
func New(exchanges ...string) *Store {
	s := &Store{
		prices: make(map[string]map[string]model.Price),
		status: make(map[string]model.ConnectionStatus, len(exchanges)),
	}
	for _, ex := range exchanges {
		s.status[ex] = model.ConnectionStatus{}
	}
	return s
}

// UpdatePrice replaces the latest price of symbol on exchange.
func (s *Store) UpdatePrice(exchange, symbol string, price model.Price) {
	price = price.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	symbols, ok := s.prices[exchange]
	if !ok {
		symbols = make(map[string]model.Price)
		s.prices[exchange] = symbols
	}
	symbols[symbol] = price
}

// GetPrices returns a deep copy of all prices, keyed by exchange then symbol.
func (s *Store) GetPrices() map[string]map[string]model.Price {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]model.Price, len(s.prices))
	for exchange, symbols := range s.prices {
		cp := make(map[string]model.Price, len(symbols))
		for symbol, price := range symbols {
			cp[symbol] = price.Clone()
		}
		out[exchange] = cp
	}
	return out
}

// SetStatus records the latest connection transition of exchange.
func (s *Store) SetStatus(exchange string, connected bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[exchange] = model.ConnectionStatus{Connected: connected, LastMessage: message}
}

// GetStatus returns a copy of the connection status of every known exchange.
func (s *Store) GetStatus() map[string]model.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.ConnectionStatus, len(s.status))
	for exchange, st := range s.status {
		out[exchange] = st
	}
	return out
}
