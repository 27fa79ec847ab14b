package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/ledger"
	"github.com/moldovadirect/cart-engine/internal/security"
	apperrors "github.com/moldovadirect/cart-engine/pkg/errors"
	"github.com/moldovadirect/cart-engine/pkg/httputil"
	"github.com/moldovadirect/cart-engine/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints. Mutations go
// through the security gate; reads and selection state come straight
// from the ledger.
type CartHandler struct {
	gate   *security.Gate
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(gate *security.Gate, l *ledger.Ledger, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		gate:   gate,
		ledger: l,
		logger: logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
type AddItemRequest struct {
	ProductID string   `json:"productId" validate:"required,max=50"`
	Slug      string   `json:"slug"`
	Name      string   `json:"name" validate:"required,min=1,max=500"`
	Price     float64  `json:"price" validate:"gte=0"`
	Images    []string `json:"images"`
	Stock     int      `json:"stock" validate:"gte=0"`
	Category  string   `json:"category"`
	Quantity  int      `json:"quantity" validate:"required,gte=1,lte=100"`
}

// UpdateQuantityRequest is the JSON request body for updating an item's quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=100"`
}

// BulkQuantityRequest is the JSON request body for bulk quantity updates.
type BulkQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,gte=1,lte=100"`
}

// LockRequest is the JSON request body for locking the cart during checkout.
// A zero duration falls back to the default checkout lock window.
type LockRequest struct {
	CheckoutSessionID string `json:"checkoutSessionId" validate:"required"`
	DurationSeconds   int    `json:"durationSeconds" validate:"gte=0,lte=86400"`
}

// --- Response DTOs ---

type cartView struct {
	SessionID                string             `json:"sessionId"`
	StorageType              string             `json:"storageType"`
	Items                    []domain.CartLine  `json:"items"`
	SavedForLater            []domain.SavedLine `json:"savedForLater"`
	Recommendations          []domain.Product   `json:"recommendations"`
	ItemCount                int                `json:"itemCount"`
	Subtotal                 float64            `json:"subtotal"`
	Locked                   bool               `json:"locked"`
	LastBackgroundValidation *time.Time         `json:"lastBackgroundValidation,omitempty"`
}

type selectionView struct {
	Count       int     `json:"count"`
	Subtotal    float64 `json:"subtotal"`
	HasSelected bool    `json:"hasSelected"`
	AllSelected bool    `json:"allSelected"`
}

type adjustmentView struct {
	Product     domain.Product `json:"product"`
	OldQuantity int            `json:"oldQuantity"`
	NewQuantity int            `json:"newQuantity"`
}

type priceChangeView struct {
	Product  domain.Product `json:"product"`
	OldPrice float64        `json:"oldPrice"`
	NewPrice float64        `json:"newPrice"`
}

type summaryView struct {
	Removed      []domain.Product  `json:"removed"`
	Adjusted     []adjustmentView  `json:"adjusted"`
	PriceChanged []priceChangeView `json:"priceChanged"`
	HasChanges   bool              `json:"hasChanges"`
}

func (h *CartHandler) cartView() cartView {
	snap := h.ledger.Snapshot()
	return cartView{
		SessionID:                snap.SessionID,
		StorageType:              snap.StorageType,
		Items:                    snap.Items,
		SavedForLater:            snap.SavedForLater,
		Recommendations:          snap.Recommendations,
		ItemCount:                h.ledger.ItemCount(),
		Subtotal:                 h.ledger.Subtotal(),
		Locked:                   h.ledger.IsLocked(),
		LastBackgroundValidation: snap.LastBackgroundValidation,
	}
}

func (h *CartHandler) summaryView() summaryView {
	s := h.ledger.ValidationSummary()
	view := summaryView{
		Removed:      s.Removed(),
		HasChanges:   s.HasChanges(),
		Adjusted:     []adjustmentView{},
		PriceChanged: []priceChangeView{},
	}
	if view.Removed == nil {
		view.Removed = []domain.Product{}
	}
	for _, a := range s.Adjusted() {
		view.Adjusted = append(view.Adjusted, adjustmentView(a))
	}
	for _, p := range s.PriceChanged() {
		view.PriceChanged = append(view.PriceChanged, priceChangeView(p))
	}
	return view
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product := domain.Product{
		ID:       req.ProductID,
		Slug:     req.Slug,
		Name:     req.Name,
		Price:    req.Price,
		Images:   req.Images,
		Stock:    req.Stock,
		Category: req.Category,
	}

	line, err := h.gate.AddItem(r.Context(), product, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: line})
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{lineId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineId")
	if lineID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("lineId is required"), h.logger)
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.gate.UpdateQuantity(r.Context(), lineID, req.Quantity); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// RemoveItem handles DELETE /api/v1/cart/items/{lineId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineId")
	if lineID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("lineId is required"), h.logger)
		return
	}

	if err := h.gate.RemoveItem(r.Context(), lineID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.ClearCart(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "cleared"}})
}

// ToggleSelection handles POST /api/v1/cart/items/{lineId}/select
func (h *CartHandler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineId")
	if lineID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("lineId is required"), h.logger)
		return
	}

	h.ledger.ToggleItemSelection(lineID)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.selectionView()})
}

// GetSelection handles GET /api/v1/cart/selection
func (h *CartHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.selectionView()})
}

// SelectAll handles POST /api/v1/cart/selection/all
func (h *CartHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	h.ledger.SelectAllItems()
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.selectionView()})
}

// ClearSelection handles DELETE /api/v1/cart/selection
func (h *CartHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.ledger.ClearSelection()
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.selectionView()})
}

func (h *CartHandler) selectionView() selectionView {
	return selectionView{
		Count:       h.ledger.SelectedItemsCount(),
		Subtotal:    h.ledger.SelectedSubtotal(),
		HasSelected: h.ledger.HasSelectedItems(),
		AllSelected: h.ledger.AllItemsSelected(),
	}
}

// BulkRemove handles POST /api/v1/cart/bulk/remove
func (h *CartHandler) BulkRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.BulkRemoveSelected(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// BulkUpdateQuantity handles POST /api/v1/cart/bulk/quantity
func (h *CartHandler) BulkUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req BulkQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.gate.BulkUpdateQuantity(r.Context(), req.Quantity); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// BulkSaveForLater handles POST /api/v1/cart/bulk/save
func (h *CartHandler) BulkSaveForLater(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.BulkSaveForLater(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// SaveForLater handles POST /api/v1/cart/items/{lineId}/save
func (h *CartHandler) SaveForLater(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineId")
	if lineID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("lineId is required"), h.logger)
		return
	}

	if err := h.gate.SaveItemForLater(r.Context(), lineID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// GetSavedForLater handles GET /api/v1/cart/saved
func (h *CartHandler) GetSavedForLater(w http.ResponseWriter, r *http.Request) {
	saved := h.ledger.SavedForLater()
	if saved == nil {
		saved = []domain.SavedLine{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: saved})
}

// MoveSavedToCart handles POST /api/v1/cart/saved/{savedId}/move
func (h *CartHandler) MoveSavedToCart(w http.ResponseWriter, r *http.Request) {
	savedID := chi.URLParam(r, "savedId")
	if savedID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("savedId is required"), h.logger)
		return
	}

	if err := h.gate.MoveFromSavedToCart(r.Context(), savedID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// RemoveSaved handles DELETE /api/v1/cart/saved/{savedId}
func (h *CartHandler) RemoveSaved(w http.ResponseWriter, r *http.Request) {
	savedID := chi.URLParam(r, "savedId")
	if savedID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("savedId is required"), h.logger)
		return
	}

	if err := h.gate.RemoveFromSavedForLater(r.Context(), savedID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.cartView()})
}

// ValidateCart handles POST /api/v1/cart/validate
func (h *CartHandler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.ValidateCart(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.summaryView()})
}

// GetValidationSummary handles GET /api/v1/cart/validation/summary
func (h *CartHandler) GetValidationSummary(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.summaryView()})
}

// GetRecommendations handles GET /api/v1/cart/recommendations
func (h *CartHandler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.LoadRecommendations(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	recs := h.ledger.Recommendations()
	if recs == nil {
		recs = []domain.Product{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: recs})
}

// LockCart handles POST /api/v1/cart/lock
func (h *CartHandler) LockCart(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.ledger.Lock(req.CheckoutSessionID, time.Duration(req.DurationSeconds)*time.Second); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"locked": true}})
}

// UnlockCart handles DELETE /api/v1/cart/lock. The checkoutSessionId
// query parameter identifies the releasing checkout session.
func (h *CartHandler) UnlockCart(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Unlock(r.URL.Query().Get("checkoutSessionId")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"locked": false}})
}

// RegenerateSession handles POST /api/v1/cart/session/regenerate
func (h *CartHandler) RegenerateSession(w http.ResponseWriter, r *http.Request) {
	sid := h.ledger.RegenerateSession(r.Context())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"sessionId": sid}})
}
