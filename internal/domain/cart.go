package domain

import "time"

// Product is a snapshot of a catalog product as known to the cart. It is
// immutable from the cart's perspective except as replaced wholesale by
// fresher validation data.
type Product struct {
	ID       string   `json:"id"`
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Images   []string `json:"images"`
	Stock    int      `json:"stock"`
	Category string   `json:"category,omitempty"`
}

// CartLine is one product entry in the cart. There is at most one line per
// product id; adding an existing product increases the quantity instead.
type CartLine struct {
	ID       string    `json:"id"`
	Product  Product   `json:"product"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"addedAt"`
}

// SavedLine is an entry in the saved-for-later collection.
// OriginalCartItemID is a back-reference used to restore the original line id
// when the entry moves back to the cart; it is not an ownership relation.
type SavedLine struct {
	ID                 string    `json:"id"`
	Product            Product   `json:"product"`
	Quantity           int       `json:"quantity"`
	SavedAt            time.Time `json:"savedAt"`
	OriginalCartItemID string    `json:"originalCartItemId,omitempty"`
}

// CachedValidation is a persisted validation cache entry. Timestamp and TTL
// are millisecond values to stay wire-compatible with previously persisted
// payloads.
type CachedValidation struct {
	IsValid   bool    `json:"isValid"`
	Product   Product `json:"product"`
	Timestamp int64   `json:"timestamp"`
	TTL       int64   `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (c CachedValidation) Expired(now time.Time) bool {
	return now.UnixMilli()-c.Timestamp > c.TTL
}

// CartPayload is the persisted cart document. Field names are part of the
// storage format; dates serialize as ISO-8601 strings.
type CartPayload struct {
	Items                       []CartLine                  `json:"items"`
	SessionID                   string                      `json:"sessionId"`
	UpdatedAt                   time.Time                   `json:"updatedAt"`
	StorageType                 string                      `json:"storageType"`
	ValidationCache             map[string]CachedValidation `json:"validationCache"`
	BackgroundValidationEnabled bool                        `json:"backgroundValidationEnabled"`
	LastBackgroundValidation    *time.Time                  `json:"lastBackgroundValidation,omitempty"`
	SavedForLater               []SavedLine                 `json:"savedForLater"`
	Recommendations             []Product                   `json:"recommendations"`
}

// ItemCount returns the total quantity across all cart lines.
func (p *CartPayload) ItemCount() int {
	var count int
	for _, line := range p.Items {
		count += line.Quantity
	}
	return count
}

// Subtotal returns the total price of all cart lines.
func (p *CartPayload) Subtotal() float64 {
	var total float64
	for _, line := range p.Items {
		total += line.Product.Price * float64(line.Quantity)
	}
	return total
}

// IsEmpty reports whether the cart holds no lines.
func (p *CartPayload) IsEmpty() bool {
	return len(p.Items) == 0
}

// FindLine returns the index of the cart line with the given id, or -1.
func (p *CartPayload) FindLine(lineID string) int {
	for i := range p.Items {
		if p.Items[i].ID == lineID {
			return i
		}
	}
	return -1
}

// FindLineByProduct returns the index of the cart line holding the given
// product id, or -1.
func (p *CartPayload) FindLineByProduct(productID string) int {
	for i := range p.Items {
		if p.Items[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

// FindSaved returns the index of the saved-for-later line with the given id,
// or -1.
func (p *CartPayload) FindSaved(savedID string) int {
	for i := range p.SavedForLater {
		if p.SavedForLater[i].ID == savedID {
			return i
		}
	}
	return -1
}
