package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/metrics"
	"github.com/moldovadirect/cart-engine/internal/notify"
	"github.com/moldovadirect/cart-engine/internal/validation"
	apperrors "github.com/moldovadirect/cart-engine/pkg/errors"
)

// AddItem adds quantity of product to the cart, merging into an
// existing line for the same product. Stock is checked against the
// best currently known truth: an unexpired valid cache entry wins
// over the caller's snapshot, and a remote re-check is scheduled when
// the cache could not answer.
func (l *Ledger) AddItem(ctx context.Context, product domain.Product, quantity int) (domain.CartLine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero domain.CartLine

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("add_item", err)
		return zero, err
	}
	if !domain.ValidProductID(product.ID) {
		err := apperrors.InvalidInput("product id is malformed")
		metrics.RecordOperation("add_item", err)
		return zero, err
	}
	if quantity <= 0 {
		err := apperrors.InvalidInput("quantity must be greater than 0")
		metrics.RecordOperation("add_item", err)
		return zero, err
	}
	if quantity > MaxQuantityPerItem {
		err := apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
		metrics.RecordOperation("add_item", err)
		return zero, err
	}

	truth := l.resolveTruth(product, validation.AddDebounce, l.cfg.AddDebounce)

	existing := -1
	existingQty := 0
	if i := l.state.FindLineByProduct(product.ID); i >= 0 {
		existing = i
		existingQty = l.state.Items[i].Quantity
	}

	if existingQty+quantity > truth.Stock {
		err := stockError(truth, quantity, existingQty)
		l.notify(notify.Notification{
			Kind:    notify.Error,
			Title:   "Not enough stock",
			Message: fmt.Sprintf("Only %d of %s available.", truth.Stock, truth.Name),
		})
		metrics.RecordOperation("add_item", err)
		return zero, err
	}

	var line domain.CartLine
	if existing >= 0 {
		l.state.Items[existing].Quantity += quantity
		l.state.Items[existing].Product = truth
		line = l.state.Items[existing]
	} else {
		if len(l.state.Items) >= MaxItemsPerCart {
			err := apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
			metrics.RecordOperation("add_item", err)
			return zero, err
		}
		line = domain.CartLine{
			ID:       domain.NewLineID(),
			Product:  truth,
			Quantity: quantity,
			AddedAt:  l.now().UTC(),
		}
		l.state.Items = append(l.state.Items, line)
	}

	// The add succeeded against this snapshot, so treat it as valid
	// until the scheduled re-check answers.
	l.cache.Set(truth.ID, true, truth, validation.SuccessTTL)

	l.persist(ctx)
	l.notify(notify.Notification{
		Kind:    notify.Success,
		Title:   "Added to cart",
		Message: fmt.Sprintf("%s (%s)", truth.Name, quantityLabel(quantity)),
	})
	l.log.InfoContext(ctx, "item added to cart",
		slog.String("session_id", l.state.SessionID),
		slog.String("product_id", truth.ID),
		slog.Int("quantity", quantity),
	)
	metrics.RecordOperation("add_item", nil)
	return line, nil
}

// UpdateQuantity sets the quantity of an existing line. Zero or
// negative delegates to RemoveItem.
func (l *Ledger) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return l.RemoveItem(ctx, lineID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("update_quantity", err)
		return err
	}
	if quantity > MaxQuantityPerItem {
		err := apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
		metrics.RecordOperation("update_quantity", err)
		return err
	}

	i := l.state.FindLine(lineID)
	if i < 0 {
		err := apperrors.ItemNotFound(lineID)
		metrics.RecordOperation("update_quantity", err)
		return err
	}

	truth := l.resolveTruth(l.state.Items[i].Product, validation.UpdateDebounce, l.cfg.UpdateDebounce)

	if quantity > truth.Stock {
		err := stockError(truth, quantity, 0)
		l.notify(notify.Notification{
			Kind:    notify.Error,
			Title:   "Not enough stock",
			Message: fmt.Sprintf("Only %d of %s available.", truth.Stock, truth.Name),
		})
		metrics.RecordOperation("update_quantity", err)
		return err
	}

	l.state.Items[i].Quantity = quantity
	l.state.Items[i].Product = truth

	l.persist(ctx)
	l.log.InfoContext(ctx, "cart line quantity updated",
		slog.String("session_id", l.state.SessionID),
		slog.String("line_id", lineID),
		slog.Int("quantity", quantity),
	)
	metrics.RecordOperation("update_quantity", nil)
	return nil
}

// RemoveItem removes a line and offers an undo that re-inserts the
// removed line, captured by value, at its original index.
func (l *Ledger) RemoveItem(ctx context.Context, lineID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("remove_item", err)
		return err
	}

	i := l.state.FindLine(lineID)
	if i < 0 {
		err := apperrors.ItemNotFound(lineID)
		metrics.RecordOperation("remove_item", err)
		return err
	}

	removed := l.state.Items[i]
	index := i
	l.state.Items = append(l.state.Items[:i], l.state.Items[i+1:]...)
	delete(l.selection, lineID)

	l.persist(ctx)
	l.notify(notify.Notification{
		Kind:    notify.Info,
		Title:   "Removed from cart",
		Message: removed.Product.Name,
		Action: &notify.Action{
			Label:   "Undo",
			Handler: func() { l.undoRemove(removed, index) },
		},
		Duration: notify.UndoWindow,
	})
	l.log.InfoContext(ctx, "item removed from cart",
		slog.String("session_id", l.state.SessionID),
		slog.String("line_id", lineID),
		slog.String("product_id", removed.Product.ID),
	)
	metrics.RecordOperation("remove_item", nil)
	return nil
}

// undoRemove re-inserts a removed line at its original index. The
// undo is a no-op once a line for the same product exists again.
func (l *Ledger) undoRemove(line domain.CartLine, index int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.FindLineByProduct(line.Product.ID) >= 0 {
		return
	}
	if index > len(l.state.Items) {
		index = len(l.state.Items)
	}

	l.state.Items = append(l.state.Items, domain.CartLine{})
	copy(l.state.Items[index+1:], l.state.Items[index:])
	l.state.Items[index] = line

	l.persist(context.Background())
	metrics.RecordOperation("undo_remove", nil)
}

// ClearCart empties the cart and offers an undo restoring the
// pre-clear lines.
func (l *Ledger) ClearCart(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("clear_cart", err)
		return err
	}

	snapshot := make([]domain.CartLine, len(l.state.Items))
	copy(snapshot, l.state.Items)

	l.state.Items = []domain.CartLine{}
	l.selection = make(map[string]struct{})

	l.persist(ctx)
	l.publishCleared(ctx, l.state.SessionID)
	l.notify(notify.Notification{
		Kind:    notify.Info,
		Title:   "Cart cleared",
		Message: quantityLabel(len(snapshot)) + " removed",
		Action: &notify.Action{
			Label:   "Undo",
			Handler: func() { l.undoClear(snapshot) },
		},
		Duration: notify.UndoWindow,
	})
	l.log.InfoContext(ctx, "cart cleared",
		slog.String("session_id", l.state.SessionID),
		slog.Int("removed", len(snapshot)),
	)
	metrics.RecordOperation("clear_cart", nil)
	return nil
}

// undoClear restores the pre-clear snapshot if the cart is still
// empty.
func (l *Ledger) undoClear(snapshot []domain.CartLine) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.state.Items) > 0 {
		return
	}
	l.state.Items = make([]domain.CartLine, len(snapshot))
	copy(l.state.Items, snapshot)

	l.persist(context.Background())
	metrics.RecordOperation("undo_clear", nil)
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// ToggleItemSelection flips the selection state of a line. Unknown
// line ids are ignored.
func (l *Ledger) ToggleItemSelection(lineID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.FindLine(lineID) < 0 {
		return
	}
	if _, ok := l.selection[lineID]; ok {
		delete(l.selection, lineID)
	} else {
		l.selection[lineID] = struct{}{}
	}
}

// SelectAllItems marks every cart line as selected.
func (l *Ledger) SelectAllItems() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.selection = make(map[string]struct{}, len(l.state.Items))
	for _, line := range l.state.Items {
		l.selection[line.ID] = struct{}{}
	}
}

// ClearSelection empties the selection set.
func (l *Ledger) ClearSelection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selection = make(map[string]struct{})
}

// HasSelectedItems reports whether any line is selected.
func (l *Ledger) HasSelectedItems() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.selection) > 0
}

// SelectedItemsCount returns the number of selected lines.
func (l *Ledger) SelectedItemsCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.selection)
}

// AllItemsSelected reports whether every line is selected.
func (l *Ledger) AllItemsSelected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.Items) > 0 && len(l.selection) == len(l.state.Items)
}

// SelectedSubtotal returns price times quantity summed over selected
// lines.
func (l *Ledger) SelectedSubtotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, line := range l.state.Items {
		if _, ok := l.selection[line.ID]; ok {
			total += line.Product.Price * float64(line.Quantity)
		}
	}
	return total
}

// ---------------------------------------------------------------------------
// Bulk operations
// ---------------------------------------------------------------------------

type removedLine struct {
	line  domain.CartLine
	index int
}

// BulkRemoveSelected removes every selected line, persists once, and
// offers an undo restoring all of them.
func (l *Ledger) BulkRemoveSelected(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("bulk_remove", err)
		return err
	}
	if len(l.selection) == 0 {
		return nil
	}

	var removed []removedLine
	kept := l.state.Items[:0]
	for i, line := range l.state.Items {
		if _, ok := l.selection[line.ID]; ok {
			removed = append(removed, removedLine{line: line, index: i})
			continue
		}
		kept = append(kept, line)
	}
	l.state.Items = kept
	l.selection = make(map[string]struct{})

	l.persist(ctx)
	l.notify(notify.Notification{
		Kind:    notify.Info,
		Title:   "Items removed",
		Message: quantityLabel(len(removed)) + " removed from cart",
		Action: &notify.Action{
			Label:   "Undo",
			Handler: func() { l.undoBulkRemove(removed) },
		},
		Duration: notify.UndoWindow,
	})
	l.log.InfoContext(ctx, "bulk remove",
		slog.String("session_id", l.state.SessionID),
		slog.Int("removed", len(removed)),
	)
	metrics.RecordOperation("bulk_remove", nil)
	return nil
}

func (l *Ledger) undoBulkRemove(removed []removedLine) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range removed {
		if l.state.FindLineByProduct(r.line.Product.ID) >= 0 {
			continue
		}
		index := r.index
		if index > len(l.state.Items) {
			index = len(l.state.Items)
		}
		l.state.Items = append(l.state.Items, domain.CartLine{})
		copy(l.state.Items[index+1:], l.state.Items[index:])
		l.state.Items[index] = r.line
	}

	l.persist(context.Background())
	metrics.RecordOperation("undo_bulk_remove", nil)
}

// BulkUpdateQuantity sets every selected line to quantity. A line
// whose product cannot cover the quantity is skipped with an
// individual warning rather than failing the batch. When every line
// was skipped, a distinct warning says so.
func (l *Ledger) BulkUpdateQuantity(ctx context.Context, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("bulk_update", err)
		return err
	}
	if quantity <= 0 || quantity > MaxQuantityPerItem {
		err := apperrors.InvalidInput(fmt.Sprintf("quantity must be between 1 and %d", MaxQuantityPerItem))
		metrics.RecordOperation("bulk_update", err)
		return err
	}
	if len(l.selection) == 0 {
		return nil
	}

	selected := len(l.selection)
	updated := 0
	for i := range l.state.Items {
		line := &l.state.Items[i]
		if _, ok := l.selection[line.ID]; !ok {
			continue
		}

		truth := l.resolveTruth(line.Product, validation.UpdateDebounce, l.cfg.UpdateDebounce)
		if quantity > truth.Stock {
			l.notify(notify.Notification{
				Kind:    notify.Warning,
				Title:   "Skipped",
				Message: fmt.Sprintf("Only %d of %s available.", truth.Stock, truth.Name),
			})
			continue
		}
		line.Quantity = quantity
		line.Product = truth
		updated++
	}
	l.selection = make(map[string]struct{})

	if updated > 0 {
		l.persist(ctx)
		l.notify(notify.Notification{
			Kind:    notify.Success,
			Title:   "Quantities updated",
			Message: fmt.Sprintf("%s set to %d", quantityLabel(updated), quantity),
		})
	} else {
		l.notify(notify.Notification{
			Kind:    notify.Warning,
			Title:   "No items updated",
			Message: "None of the selected items had enough stock.",
		})
	}
	l.log.InfoContext(ctx, "bulk quantity update",
		slog.String("session_id", l.state.SessionID),
		slog.Int("selected", selected),
		slog.Int("updated", updated),
	)
	metrics.RecordOperation("bulk_update", nil)
	return nil
}

// BulkSaveForLater moves every selected line to saved-for-later,
// persists once, and offers an undo moving them back.
func (l *Ledger) BulkSaveForLater(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("bulk_save_for_later", err)
		return err
	}
	if len(l.selection) == 0 {
		return nil
	}

	var moved []removedLine
	kept := l.state.Items[:0]
	now := l.now().UTC()
	for i, line := range l.state.Items {
		if _, ok := l.selection[line.ID]; !ok {
			kept = append(kept, line)
			continue
		}
		moved = append(moved, removedLine{line: line, index: i})
		l.state.SavedForLater = append(l.state.SavedForLater, domain.SavedLine{
			ID:                 domain.NewLineID(),
			Product:            line.Product,
			Quantity:           line.Quantity,
			SavedAt:            now,
			OriginalCartItemID: line.ID,
		})
	}
	l.state.Items = kept
	l.selection = make(map[string]struct{})

	l.persist(ctx)
	l.notify(notify.Notification{
		Kind:    notify.Info,
		Title:   "Saved for later",
		Message: quantityLabel(len(moved)) + " moved out of the cart",
		Action: &notify.Action{
			Label:   "Undo",
			Handler: func() { l.undoBulkSave(moved) },
		},
		Duration: notify.UndoWindow,
	})
	l.log.InfoContext(ctx, "bulk save for later",
		slog.String("session_id", l.state.SessionID),
		slog.Int("moved", len(moved)),
	)
	metrics.RecordOperation("bulk_save_for_later", nil)
	return nil
}

func (l *Ledger) undoBulkSave(moved []removedLine) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range moved {
		// Drop the corresponding saved line, then restore the cart
		// line at its old index.
		for j, saved := range l.state.SavedForLater {
			if saved.OriginalCartItemID == m.line.ID {
				l.state.SavedForLater = append(l.state.SavedForLater[:j], l.state.SavedForLater[j+1:]...)
				break
			}
		}
		if l.state.FindLineByProduct(m.line.Product.ID) >= 0 {
			continue
		}
		index := m.index
		if index > len(l.state.Items) {
			index = len(l.state.Items)
		}
		l.state.Items = append(l.state.Items, domain.CartLine{})
		copy(l.state.Items[index+1:], l.state.Items[index:])
		l.state.Items[index] = m.line
	}

	l.persist(context.Background())
	metrics.RecordOperation("undo_bulk_save", nil)
}

// ---------------------------------------------------------------------------
// Saved for later
// ---------------------------------------------------------------------------

// SaveItemForLater moves a cart line to the saved-for-later
// collection, keeping a back-reference to the original line id.
func (l *Ledger) SaveItemForLater(ctx context.Context, lineID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("save_for_later", err)
		return err
	}

	i := l.state.FindLine(lineID)
	if i < 0 {
		err := apperrors.ItemNotFound(lineID)
		metrics.RecordOperation("save_for_later", err)
		return err
	}

	line := l.state.Items[i]
	l.state.Items = append(l.state.Items[:i], l.state.Items[i+1:]...)
	delete(l.selection, lineID)

	l.state.SavedForLater = append(l.state.SavedForLater, domain.SavedLine{
		ID:                 domain.NewLineID(),
		Product:            line.Product,
		Quantity:           line.Quantity,
		SavedAt:            l.now().UTC(),
		OriginalCartItemID: line.ID,
	})

	l.persist(ctx)
	l.notify(notify.Notification{
		Kind:    notify.Info,
		Title:   "Saved for later",
		Message: line.Product.Name,
	})
	metrics.RecordOperation("save_for_later", nil)
	return nil
}

// MoveFromSavedToCart moves a saved line back into the cart. When a
// line for the same product already exists, quantities are summed and
// clamped to stock; a cart line already at max stock aborts the move
// without consuming the saved line.
func (l *Ledger) MoveFromSavedToCart(ctx context.Context, savedID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUnlocked(); err != nil {
		metrics.RecordOperation("move_to_cart", err)
		return err
	}

	si := l.state.FindSaved(savedID)
	if si < 0 {
		err := apperrors.ItemNotFound(savedID)
		metrics.RecordOperation("move_to_cart", err)
		return err
	}
	saved := l.state.SavedForLater[si]

	truth := l.resolveTruth(saved.Product, validation.AddDebounce, l.cfg.AddDebounce)

	if ci := l.state.FindLineByProduct(saved.Product.ID); ci >= 0 {
		existing := &l.state.Items[ci]
		if existing.Quantity >= truth.Stock {
			err := stockError(truth, saved.Quantity, existing.Quantity)
			l.notify(notify.Notification{
				Kind:    notify.Error,
				Title:   "Cannot move to cart",
				Message: fmt.Sprintf("%s is already at the maximum available quantity.", truth.Name),
			})
			metrics.RecordOperation("move_to_cart", err)
			return err
		}

		wanted := existing.Quantity + saved.Quantity
		granted := wanted
		if granted > truth.Stock {
			granted = truth.Stock
		}
		existing.Quantity = granted
		existing.Product = truth

		l.state.SavedForLater = append(l.state.SavedForLater[:si], l.state.SavedForLater[si+1:]...)
		l.persist(ctx)

		if granted < wanted {
			l.notify(notify.Notification{
				Kind:    notify.Warning,
				Title:   "Partially moved",
				Message: fmt.Sprintf("Only %d of %s fit within available stock.", granted, truth.Name),
			})
		} else {
			l.notify(notify.Notification{
				Kind:    notify.Success,
				Title:   "Moved to cart",
				Message: truth.Name,
			})
		}
		metrics.RecordOperation("move_to_cart", nil)
		return nil
	}

	if truth.Stock <= 0 {
		err := stockError(truth, saved.Quantity, 0)
		l.notify(notify.Notification{
			Kind:    notify.Error,
			Title:   "Cannot move to cart",
			Message: fmt.Sprintf("%s is out of stock.", truth.Name),
		})
		metrics.RecordOperation("move_to_cart", err)
		return err
	}

	quantity := saved.Quantity
	if quantity > truth.Stock {
		quantity = truth.Stock
	}

	// Restore the original line id so identity is stable across a
	// save/restore round trip.
	lineID := saved.OriginalCartItemID
	if lineID == "" {
		lineID = domain.NewLineID()
	}

	l.state.Items = append(l.state.Items, domain.CartLine{
		ID:       lineID,
		Product:  truth,
		Quantity: quantity,
		AddedAt:  l.now().UTC(),
	})
	l.state.SavedForLater = append(l.state.SavedForLater[:si], l.state.SavedForLater[si+1:]...)
	l.persist(ctx)

	if quantity < saved.Quantity {
		l.notify(notify.Notification{
			Kind:    notify.Warning,
			Title:   "Partially moved",
			Message: fmt.Sprintf("Only %d of %s fit within available stock.", quantity, truth.Name),
		})
	} else {
		l.notify(notify.Notification{
			Kind:    notify.Success,
			Title:   "Moved to cart",
			Message: truth.Name,
		})
	}
	metrics.RecordOperation("move_to_cart", nil)
	return nil
}

// RemoveFromSavedForLater deletes a saved line, with an undo
// restoring it.
func (l *Ledger) RemoveFromSavedForLater(ctx context.Context, savedID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	si := l.state.FindSaved(savedID)
	if si < 0 {
		err := apperrors.ItemNotFound(savedID)
		metrics.RecordOperation("remove_saved", err)
		return err
	}

	removed := l.state.SavedForLater[si]
	l.state.SavedForLater = append(l.state.SavedForLater[:si], l.state.SavedForLater[si+1:]...)

	l.persist(ctx)
	l.notify(notify.Notification{
		Kind:    notify.Info,
		Title:   "Removed from saved items",
		Message: removed.Product.Name,
		Action: &notify.Action{
			Label: "Undo",
			Handler: func() {
				l.mu.Lock()
				defer l.mu.Unlock()
				if l.state.FindSaved(removed.ID) >= 0 {
					return
				}
				l.state.SavedForLater = append(l.state.SavedForLater, removed)
				l.persist(context.Background())
			},
		},
		Duration: notify.UndoWindow,
	})
	metrics.RecordOperation("remove_saved", nil)
	return nil
}
