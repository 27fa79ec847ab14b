package validation

import (
	"sync"

	"github.com/moldovadirect/cart-engine/internal/domain"
)

// PriceChange records a product whose price moved between the local
// snapshot and the catalog's answer.
type PriceChange struct {
	Product  domain.Product
	OldPrice float64
	NewPrice float64
}

// QuantityAdjustment records a line clamped to a lower stock level.
type QuantityAdjustment struct {
	Product     domain.Product
	OldQuantity int
	NewQuantity int
}

// Summary accumulates the real per-product diffs observed while
// applying validation outcomes, so callers can decide which
// post-validation messages deserve the user's attention.
type Summary struct {
	mu           sync.Mutex
	removed      []domain.Product
	adjusted     []QuantityAdjustment
	priceChanged []PriceChange
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{}
}

func (s *Summary) RecordRemoved(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, p)
}

func (s *Summary) RecordAdjusted(p domain.Product, oldQty, newQty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjusted = append(s.adjusted, QuantityAdjustment{Product: p, OldQuantity: oldQty, NewQuantity: newQty})
}

func (s *Summary) RecordPriceChange(p domain.Product, oldPrice, newPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceChanged = append(s.priceChanged, PriceChange{Product: p, OldPrice: oldPrice, NewPrice: newPrice})
}

// Removed returns products removed because the catalog dropped them
// or their stock hit zero.
func (s *Summary) Removed() []domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, len(s.removed))
	copy(out, s.removed)
	return out
}

// Adjusted returns lines whose quantity was clamped to stock.
func (s *Summary) Adjusted() []QuantityAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QuantityAdjustment, len(s.adjusted))
	copy(out, s.adjusted)
	return out
}

// PriceChanged returns products whose price moved.
func (s *Summary) PriceChanged() []PriceChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PriceChange, len(s.priceChanged))
	copy(out, s.priceChanged)
	return out
}

// HasChanges reports whether the summary recorded anything.
func (s *Summary) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.removed)+len(s.adjusted)+len(s.priceChanged) > 0
}

// Reset clears the summary for the next validation pass.
func (s *Summary) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = nil
	s.adjusted = nil
	s.priceChanged = nil
}
