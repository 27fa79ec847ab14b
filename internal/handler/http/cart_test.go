package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/ledger"
	"github.com/moldovadirect/cart-engine/internal/notify"
	"github.com/moldovadirect/cart-engine/internal/security"
	"github.com/moldovadirect/cart-engine/internal/storage"
	apperrors "github.com/moldovadirect/cart-engine/pkg/errors"
	"github.com/moldovadirect/cart-engine/pkg/health"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// stubCatalog serves canned products for validation and recommendation calls.
type stubCatalog struct {
	products map[string]domain.Product
	recs     []domain.Product
}

func (s *stubCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if p, ok := s.products[id]; ok {
		return &p, nil
	}
	return nil, apperrors.ProductUnavailable(id)
}

func (s *stubCatalog) GetRecommendations(ctx context.Context, categories, exclude []string, limit int) ([]domain.Product, error) {
	return s.recs, nil
}

type serverEnv struct {
	srv     *httptest.Server
	ledger  *ledger.Ledger
	catalog *stubCatalog
}

func newServer(t *testing.T) *serverEnv {
	t.Helper()

	logger := testLogger()
	adapter, err := storage.NewAdapter(logger, []storage.Tier{storage.NewMemoryTier()})
	require.NoError(t, err)

	catalog := &stubCatalog{products: make(map[string]domain.Product)}

	l := ledger.New(logger, adapter, catalog, notify.NewRecorder(), nil, ledger.Config{
		AddDebounce:    time.Hour,
		UpdateDebounce: time.Hour,
	})
	require.NoError(t, l.Initialize(context.Background()))
	t.Cleanup(l.Close)

	gate := security.NewGate(l, nil, false, logger)
	router := NewRouter(gate, l, health.NewHandler(), logger, RouterConfig{})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &serverEnv{srv: srv, ledger: l, catalog: catalog}
}

func (e *serverEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Nil(t, envelope.Error, "unexpected error response")
	if dst != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, dst))
	}
}

func decodeError(t *testing.T, resp *http.Response) (code, message string) {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error.Code, envelope.Error.Message
}

func addBody(id string, price float64, stock, quantity int) AddItemRequest {
	return AddItemRequest{
		ProductID: id,
		Slug:      id,
		Name:      "Product " + id,
		Price:     price,
		Stock:     stock,
		Quantity:  quantity,
	}
}

func TestGetCartEmpty(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Session-ID"))

	var view cartView
	decodeData(t, resp, &view)
	assert.Empty(t, view.Items)
	assert.Equal(t, 0, view.ItemCount)
	assert.Equal(t, 0.0, view.Subtotal)
	assert.NotEmpty(t, view.SessionID)
	assert.Equal(t, "memory", view.StorageType)
}

func TestAddItem(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 12.5, 10, 2))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var line domain.CartLine
	decodeData(t, resp, &line)
	assert.NotEmpty(t, line.ID)
	assert.Equal(t, "wine-1", line.Product.ID)
	assert.Equal(t, 2, line.Quantity)

	assert.Equal(t, 2, env.ledger.ItemCount())
}

func TestAddItemValidation(t *testing.T) {
	env := newServer(t)

	// Missing name and zero quantity.
	resp := env.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{
		"productId": "wine-1",
		"price":     12.5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, _ := decodeError(t, resp)
	assert.Equal(t, "VALIDATION_FAILED", code)
}

func TestAddItemInsufficientStock(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 12.5, 1, 3))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	code, _ := decodeError(t, resp)
	assert.Equal(t, "INSUFFICIENT_STOCK", code)
}

func TestUpdateAndRemoveItem(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 2))
	var line domain.CartLine
	decodeData(t, resp, &line)

	resp = env.do(t, http.MethodPut, "/api/v1/cart/items/"+line.ID, UpdateQuantityRequest{Quantity: 5})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view cartView
	decodeData(t, resp, &view)
	assert.Equal(t, 5, view.ItemCount)
	assert.Equal(t, 50.0, view.Subtotal)

	resp = env.do(t, http.MethodDelete, "/api/v1/cart/items/"+line.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &view)
	assert.Empty(t, view.Items)
}

func TestUpdateUnknownLine(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodPut, "/api/v1/cart/items/nope", UpdateQuantityRequest{Quantity: 2})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	code, _ := decodeError(t, resp)
	assert.Equal(t, "ITEM_NOT_FOUND", code)
}

func TestClearCart(t *testing.T) {
	env := newServer(t)

	env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 2)).Body.Close()

	resp := env.do(t, http.MethodDelete, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]string
	decodeData(t, resp, &status)
	assert.Equal(t, "cleared", status["status"])
	assert.True(t, env.ledger.IsEmpty())
}

func TestSelectionFlow(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 2))
	var line domain.CartLine
	decodeData(t, resp, &line)
	env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-2", 20, 10, 1)).Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/cart/items/"+line.ID+"/select", nil)
	var sel selectionView
	decodeData(t, resp, &sel)
	assert.Equal(t, 1, sel.Count)
	assert.Equal(t, 20.0, sel.Subtotal)
	assert.True(t, sel.HasSelected)
	assert.False(t, sel.AllSelected)

	resp = env.do(t, http.MethodPost, "/api/v1/cart/selection/all", nil)
	decodeData(t, resp, &sel)
	assert.Equal(t, 2, sel.Count)
	assert.True(t, sel.AllSelected)

	resp = env.do(t, http.MethodDelete, "/api/v1/cart/selection", nil)
	decodeData(t, resp, &sel)
	assert.Equal(t, 0, sel.Count)
	assert.False(t, sel.HasSelected)
}

func TestBulkQuantity(t *testing.T) {
	env := newServer(t)

	env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 2)).Body.Close()
	env.do(t, http.MethodPost, "/api/v1/cart/selection/all", nil).Body.Close()

	resp := env.do(t, http.MethodPost, "/api/v1/cart/bulk/quantity", BulkQuantityRequest{Quantity: 4})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view cartView
	decodeData(t, resp, &view)
	assert.Equal(t, 4, view.ItemCount)
}

func TestSavedForLaterFlow(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 2))
	var line domain.CartLine
	decodeData(t, resp, &line)

	resp = env.do(t, http.MethodPost, "/api/v1/cart/items/"+line.ID+"/save", nil)
	var view cartView
	decodeData(t, resp, &view)
	assert.Empty(t, view.Items)
	require.Len(t, view.SavedForLater, 1)

	savedID := view.SavedForLater[0].ID

	resp = env.do(t, http.MethodGet, "/api/v1/cart/saved", nil)
	var saved []domain.SavedLine
	decodeData(t, resp, &saved)
	require.Len(t, saved, 1)
	assert.Equal(t, "wine-1", saved[0].Product.ID)

	resp = env.do(t, http.MethodPost, "/api/v1/cart/saved/"+savedID+"/move", nil)
	decodeData(t, resp, &view)
	assert.Len(t, view.Items, 1)
	assert.Empty(t, view.SavedForLater)
	assert.Equal(t, line.ID, view.Items[0].ID)
}

func TestRemoveSavedUnknown(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodDelete, "/api/v1/cart/saved/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidateCart(t *testing.T) {
	env := newServer(t)

	env.catalog.products["wine-1"] = domain.Product{
		ID: "wine-1", Slug: "wine-1", Name: "Product wine-1", Price: 15, Stock: 10,
	}
	env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 2)).Body.Close()

	resp := env.do(t, http.MethodPost, "/api/v1/cart/validate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary summaryView
	decodeData(t, resp, &summary)
	assert.True(t, summary.HasChanges)
	require.Len(t, summary.PriceChanged, 1)
	assert.Equal(t, 10.0, summary.PriceChanged[0].OldPrice)
	assert.Equal(t, 15.0, summary.PriceChanged[0].NewPrice)

	resp = env.do(t, http.MethodGet, "/api/v1/cart/validation/summary", nil)
	decodeData(t, resp, &summary)
	assert.True(t, summary.HasChanges)
}

func TestRecommendations(t *testing.T) {
	env := newServer(t)

	env.catalog.recs = []domain.Product{{ID: "wine-9", Name: "Other", Price: 9, Stock: 3}}
	env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 1)).Body.Close()

	resp := env.do(t, http.MethodGet, "/api/v1/cart/recommendations", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var recs []domain.Product
	decodeData(t, resp, &recs)
	require.Len(t, recs, 1)
	assert.Equal(t, "wine-9", recs[0].ID)
}

func TestLockBlocksMutations(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/cart/lock", LockRequest{CheckoutSessionID: "chk_1", DurationSeconds: 60})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 1))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// A different checkout session cannot release the lock.
	resp = env.do(t, http.MethodDelete, "/api/v1/cart/lock?checkoutSessionId=chk_2", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodDelete, "/api/v1/cart/lock?checkoutSessionId=chk_1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/v1/cart/items", addBody("wine-1", 10, 10, 1))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func TestRegenerateSession(t *testing.T) {
	env := newServer(t)

	before := env.ledger.SessionID()
	resp := env.do(t, http.MethodPost, "/api/v1/cart/session/regenerate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var data map[string]string
	decodeData(t, resp, &data)
	assert.NotEmpty(t, data["sessionId"])
	assert.NotEqual(t, before, data["sessionId"])
}

func TestUnsupportedMediaType(t *testing.T) {
	env := newServer(t)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/cart/items", bytes.NewBufferString("productId=wine-1"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	env := newServer(t)

	resp := env.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
