// Package cartdata validates and repairs persisted cart payloads.
// Input can be arbitrarily corrupted; the validator never fails, it
// always produces a usable payload plus the list of problems it had
// to repair along the way.
package cartdata

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/moldovadirect/cart-engine/internal/domain"
)

// Result is the outcome of a repair pass. IsValid is false whenever
// any repair occurred, even when Fixed is fully usable.
type Result struct {
	IsValid bool
	Fixed   *domain.CartPayload
	Errors  []string
}

// Validate parses raw persisted bytes into a usable cart payload,
// repairing whatever it can and dropping only what cannot be safely
// displayed or priced.
func Validate(raw []byte) Result {
	now := time.Now().UTC()

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return Result{
			IsValid: false,
			Fixed:   freshPayload(now),
			Errors:  []string{"payload is not a JSON object"},
		}
	}
	return repair(doc, now)
}

func freshPayload(now time.Time) *domain.CartPayload {
	return &domain.CartPayload{
		Items:           []domain.CartLine{},
		SessionID:       domain.NewSessionID(),
		UpdatedAt:       now,
		ValidationCache: map[string]domain.CachedValidation{},
		SavedForLater:   []domain.SavedLine{},
		Recommendations: []domain.Product{},
	}
}

func repair(doc map[string]any, now time.Time) Result {
	var errs []string
	out := freshPayload(now)

	if sid, ok := doc["sessionId"].(string); ok && sid != "" {
		out.SessionID = sid
	} else {
		errs = append(errs, "sessionId missing or malformed, regenerated")
	}

	if ts, ok := parseTime(doc["updatedAt"]); ok {
		out.UpdatedAt = ts
	} else {
		errs = append(errs, "updatedAt missing or malformed, reset to now")
	}

	if st, ok := doc["storageType"].(string); ok {
		out.StorageType = st
	}
	if bg, ok := doc["backgroundValidationEnabled"].(bool); ok {
		out.BackgroundValidationEnabled = bg
	}
	if ts, ok := parseTime(doc["lastBackgroundValidation"]); ok {
		out.LastBackgroundValidation = &ts
	}

	items, itemErrs := repairLines(doc["items"], now)
	out.Items = items
	errs = append(errs, itemErrs...)

	saved, savedErrs := repairSavedLines(doc["savedForLater"], now)
	out.SavedForLater = saved
	errs = append(errs, savedErrs...)

	cache, cacheErrs := repairCache(doc["validationCache"])
	out.ValidationCache = cache
	errs = append(errs, cacheErrs...)

	if recs, ok := doc["recommendations"].([]any); ok {
		for _, r := range recs {
			if m, ok := r.(map[string]any); ok {
				if p, ok := parseProduct(m); ok {
					out.Recommendations = append(out.Recommendations, p)
				}
			}
		}
	}

	return Result{
		IsValid: len(errs) == 0,
		Fixed:   out,
		Errors:  errs,
	}
}

func repairLines(v any, now time.Time) ([]domain.CartLine, []string) {
	lines := []domain.CartLine{}

	raw, ok := v.([]any)
	if !ok {
		if v == nil {
			return lines, []string{"items missing, defaulted to empty"}
		}
		return lines, []string{"items is not an array, defaulted to empty"}
	}

	var errs []string
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("item %d is not an object, dropped", i))
			continue
		}

		pm, _ := m["product"].(map[string]any)
		product, ok := parseProduct(pm)
		if !ok {
			// Partial product data cannot be safely displayed or
			// priced, so the whole line goes.
			errs = append(errs, fmt.Sprintf("item %d has malformed product, dropped", i))
			continue
		}

		line := domain.CartLine{Product: product}

		if id, ok := m["id"].(string); ok && id != "" {
			line.ID = id
		} else {
			line.ID = domain.NewLineID()
			errs = append(errs, fmt.Sprintf("item %d missing id, generated", i))
		}

		qty, qok := parsePositiveInt(m["quantity"])
		if !qok {
			qty = 1
			errs = append(errs, fmt.Sprintf("item %d has invalid quantity, coerced to 1", i))
		}
		line.Quantity = qty

		if ts, ok := parseTime(m["addedAt"]); ok {
			line.AddedAt = ts
		} else {
			line.AddedAt = now
			errs = append(errs, fmt.Sprintf("item %d has malformed addedAt, reset to now", i))
		}

		lines = append(lines, line)
	}
	return lines, errs
}

func repairSavedLines(v any, now time.Time) ([]domain.SavedLine, []string) {
	saved := []domain.SavedLine{}

	raw, ok := v.([]any)
	if !ok {
		return saved, nil
	}

	var errs []string
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("saved item %d is not an object, dropped", i))
			continue
		}

		pm, _ := m["product"].(map[string]any)
		product, ok := parseProduct(pm)
		if !ok {
			errs = append(errs, fmt.Sprintf("saved item %d has malformed product, dropped", i))
			continue
		}

		line := domain.SavedLine{Product: product}

		if id, ok := m["id"].(string); ok && id != "" {
			line.ID = id
		} else {
			line.ID = domain.NewLineID()
			errs = append(errs, fmt.Sprintf("saved item %d missing id, generated", i))
		}

		qty, qok := parsePositiveInt(m["quantity"])
		if !qok {
			qty = 1
			errs = append(errs, fmt.Sprintf("saved item %d has invalid quantity, coerced to 1", i))
		}
		line.Quantity = qty

		if ts, ok := parseTime(m["savedAt"]); ok {
			line.SavedAt = ts
		} else {
			line.SavedAt = now
			errs = append(errs, fmt.Sprintf("saved item %d has malformed savedAt, reset to now", i))
		}

		if orig, ok := m["originalCartItemId"].(string); ok {
			line.OriginalCartItemID = orig
		}

		saved = append(saved, line)
	}
	return saved, errs
}

func repairCache(v any) (map[string]domain.CachedValidation, []string) {
	cache := map[string]domain.CachedValidation{}

	raw, ok := v.(map[string]any)
	if !ok {
		return cache, nil
	}

	var errs []string
	for id, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("cache entry %q malformed, dropped", id))
			continue
		}

		pm, _ := m["product"].(map[string]any)
		product, pok := parseProduct(pm)
		isValid, vok := m["isValid"].(bool)
		ts, tok := parseMillis(m["timestamp"])
		ttl, lok := parseMillis(m["ttl"])
		if !pok || !vok || !tok || !lok {
			errs = append(errs, fmt.Sprintf("cache entry %q malformed, dropped", id))
			continue
		}

		cache[id] = domain.CachedValidation{
			IsValid:   isValid,
			Product:   product,
			Timestamp: ts,
			TTL:       ttl,
		}
	}
	return cache, errs
}

func parseProduct(m map[string]any) (domain.Product, bool) {
	if m == nil {
		return domain.Product{}, false
	}

	id, _ := m["id"].(string)
	name, _ := m["name"].(string)
	price, priceOK := m["price"].(float64)
	if id == "" || name == "" || !priceOK {
		return domain.Product{}, false
	}

	p := domain.Product{
		ID:    id,
		Name:  name,
		Price: price,
	}
	if slug, ok := m["slug"].(string); ok {
		p.Slug = slug
	}
	if category, ok := m["category"].(string); ok {
		p.Category = category
	}
	if stock, ok := m["stock"].(float64); ok && stock >= 0 && stock == math.Trunc(stock) {
		p.Stock = int(stock)
	}
	if images, ok := m["images"].([]any); ok {
		for _, img := range images {
			if s, ok := img.(string); ok {
				p.Images = append(p.Images, s)
			}
		}
	}
	return p, true
}

func parsePositiveInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func parseMillis(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
