// Package security is the optional gate in front of the cart ledger.
// When enabled, every mutating operation passes session-id shape
// validation, operation-specific payload validation, and (when a
// secure endpoint is configured) a server-side mutation whose
// canonical result is mirrored into local state. When disabled,
// calls go straight through.
package security

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/ledger"
)

// Mutator is the secure-endpoint dependency, satisfied by
// *SecureClient. It is an interface so tests can fake the remote.
type Mutator interface {
	Mutate(ctx context.Context, operation, sessionID string, payload any) (*MutationResult, error)
}

// Gate decorates the ledger's mutating surface.
type Gate struct {
	ledger  *ledger.Ledger
	secure  Mutator
	enabled bool
	log     *slog.Logger
}

// NewGate wraps l. secure may be nil, in which case the remote step
// is skipped even when the gate is enabled.
func NewGate(l *ledger.Ledger, secure Mutator, enabled bool, log *slog.Logger) *Gate {
	return &Gate{
		ledger:  l,
		secure:  secure,
		enabled: enabled,
		log:     log,
	}
}

// Enabled reports whether the gate checks are active.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// ensureSession regenerates the session id when the stored one does
// not match the expected shape.
func (g *Gate) ensureSession(ctx context.Context) string {
	sid := g.ledger.SessionID()
	if domain.ValidSessionID(sid) {
		return sid
	}
	fresh := g.ledger.RegenerateSession(ctx)
	g.log.Warn("session id malformed, regenerated",
		slog.String("old", sid),
		slog.String("new", fresh))
	return fresh
}

// mutateRemote runs the server-side mutation when a secure endpoint
// is configured. It fails closed on any remote error.
func (g *Gate) mutateRemote(ctx context.Context, operation, sessionID string, payload any) (*MutationResult, error) {
	if g.secure == nil {
		return &MutationResult{}, nil
	}
	return g.secure.Mutate(ctx, operation, sessionID, payload)
}

// AddItem validates the payload and adds the product through the
// ledger. A canonical product returned by the secure endpoint
// replaces the caller's snapshot.
func (g *Gate) AddItem(ctx context.Context, product domain.Product, quantity int) (domain.CartLine, error) {
	if !g.enabled {
		return g.ledger.AddItem(ctx, product, quantity)
	}

	sid := g.ensureSession(ctx)
	payload := addItemPayload{
		SessionID: sid,
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Stock:     product.Stock,
		Quantity:  quantity,
	}
	violations := productIDViolations(product.ID)
	if projected := g.ledger.Subtotal() + product.Price*float64(quantity); projected > MaxCartValue {
		violations = append(violations, fmt.Sprintf("cart value would exceed the %d limit", MaxCartValue))
	}
	if err := checkSchema(payload, violations...); err != nil {
		return domain.CartLine{}, err
	}

	result, err := g.mutateRemote(ctx, "add_item", sid, payload)
	if err != nil {
		return domain.CartLine{}, err
	}
	if result.Product != nil {
		product = *result.Product
	}
	return g.ledger.AddItem(ctx, product, quantity)
}

// UpdateQuantity validates and applies a quantity change.
func (g *Gate) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if !g.enabled {
		return g.ledger.UpdateQuantity(ctx, lineID, quantity)
	}

	sid := g.ensureSession(ctx)
	payload := updateQuantityPayload{SessionID: sid, LineID: lineID, Quantity: quantity}
	if err := checkSchema(payload); err != nil {
		return err
	}

	if _, err := g.mutateRemote(ctx, "update_quantity", sid, payload); err != nil {
		return err
	}
	return g.ledger.UpdateQuantity(ctx, lineID, quantity)
}

// RemoveItem validates and removes a line.
func (g *Gate) RemoveItem(ctx context.Context, lineID string) error {
	if !g.enabled {
		return g.ledger.RemoveItem(ctx, lineID)
	}

	sid := g.ensureSession(ctx)
	payload := lineRefPayload{SessionID: sid, LineID: lineID}
	if err := checkSchema(payload); err != nil {
		return err
	}

	if _, err := g.mutateRemote(ctx, "remove_item", sid, payload); err != nil {
		return err
	}
	return g.ledger.RemoveItem(ctx, lineID)
}

// ClearCart validates the session and clears the cart.
func (g *Gate) ClearCart(ctx context.Context) error {
	if !g.enabled {
		return g.ledger.ClearCart(ctx)
	}

	sid := g.ensureSession(ctx)
	if err := checkSchema(sessionOnlyPayload{SessionID: sid}); err != nil {
		return err
	}

	if _, err := g.mutateRemote(ctx, "clear_cart", sid, nil); err != nil {
		return err
	}
	return g.ledger.ClearCart(ctx)
}

// SaveItemForLater validates and moves a line out of the cart.
func (g *Gate) SaveItemForLater(ctx context.Context, lineID string) error {
	if !g.enabled {
		return g.ledger.SaveItemForLater(ctx, lineID)
	}

	sid := g.ensureSession(ctx)
	payload := lineRefPayload{SessionID: sid, LineID: lineID}
	if err := checkSchema(payload); err != nil {
		return err
	}

	if _, err := g.mutateRemote(ctx, "save_for_later", sid, payload); err != nil {
		return err
	}
	return g.ledger.SaveItemForLater(ctx, lineID)
}

// MoveFromSavedToCart validates and moves a saved line back.
func (g *Gate) MoveFromSavedToCart(ctx context.Context, savedID string) error {
	if !g.enabled {
		return g.ledger.MoveFromSavedToCart(ctx, savedID)
	}

	sid := g.ensureSession(ctx)
	payload := lineRefPayload{SessionID: sid, LineID: savedID}
	if err := checkSchema(payload); err != nil {
		return err
	}

	if _, err := g.mutateRemote(ctx, "move_to_cart", sid, payload); err != nil {
		return err
	}
	return g.ledger.MoveFromSavedToCart(ctx, savedID)
}

// RemoveFromSavedForLater validates and deletes a saved line.
func (g *Gate) RemoveFromSavedForLater(ctx context.Context, savedID string) error {
	if !g.enabled {
		return g.ledger.RemoveFromSavedForLater(ctx, savedID)
	}

	sid := g.ensureSession(ctx)
	payload := lineRefPayload{SessionID: sid, LineID: savedID}
	if err := checkSchema(payload); err != nil {
		return err
	}

	if _, err := g.mutateRemote(ctx, "remove_saved", sid, payload); err != nil {
		return err
	}
	return g.ledger.RemoveFromSavedForLater(ctx, savedID)
}

// BulkRemoveSelected validates the session and removes the selected
// lines.
func (g *Gate) BulkRemoveSelected(ctx context.Context) error {
	if !g.enabled {
		return g.ledger.BulkRemoveSelected(ctx)
	}

	sid := g.ensureSession(ctx)
	if err := checkSchema(sessionOnlyPayload{SessionID: sid}); err != nil {
		return err
	}
	if _, err := g.mutateRemote(ctx, "bulk_remove", sid, nil); err != nil {
		return err
	}
	return g.ledger.BulkRemoveSelected(ctx)
}

// BulkUpdateQuantity validates and applies a bulk quantity change.
func (g *Gate) BulkUpdateQuantity(ctx context.Context, quantity int) error {
	if !g.enabled {
		return g.ledger.BulkUpdateQuantity(ctx, quantity)
	}

	sid := g.ensureSession(ctx)
	payload := bulkQuantityPayload{SessionID: sid, Quantity: quantity}
	if err := checkSchema(payload); err != nil {
		return err
	}
	if _, err := g.mutateRemote(ctx, "bulk_update", sid, payload); err != nil {
		return err
	}
	return g.ledger.BulkUpdateQuantity(ctx, quantity)
}

// BulkSaveForLater validates the session and saves the selected
// lines for later.
func (g *Gate) BulkSaveForLater(ctx context.Context) error {
	if !g.enabled {
		return g.ledger.BulkSaveForLater(ctx)
	}

	sid := g.ensureSession(ctx)
	if err := checkSchema(sessionOnlyPayload{SessionID: sid}); err != nil {
		return err
	}
	if _, err := g.mutateRemote(ctx, "bulk_save_for_later", sid, nil); err != nil {
		return err
	}
	return g.ledger.BulkSaveForLater(ctx)
}
