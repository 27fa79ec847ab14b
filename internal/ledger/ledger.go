// Package ledger owns the mutable cart state: cart lines, saved-for-
// later lines, and the selection set. Every mutation goes through the
// Ledger, which applies it optimistically to local state, persists it
// through the storage adapter, and emits a structured notification.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moldovadirect/cart-engine/internal/cartdata"
	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/internal/metrics"
	"github.com/moldovadirect/cart-engine/internal/notify"
	"github.com/moldovadirect/cart-engine/internal/storage"
	"github.com/moldovadirect/cart-engine/internal/validation"
	apperrors "github.com/moldovadirect/cart-engine/pkg/errors"
)

// StorageKey is the fixed key the cart payload lives under on every
// storage tier.
const StorageKey = "moldova-direct:cart"

// PayloadMaxAge is the inactivity window after which a persisted
// payload is discarded wholesale on load.
const PayloadMaxAge = 30 * 24 * time.Hour

// Cart operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single cart line.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct lines allowed in a cart.
	MaxItemsPerCart = 50
)

const recommendationLimit = 4

// Catalog is the remote product source the ledger reconciles
// against.
type Catalog interface {
	validation.ProductFetcher
	GetRecommendations(ctx context.Context, categories, exclude []string, limit int) ([]domain.Product, error)
}

// EventPublisher mirrors cart mutations onto the event bus. Publish
// failures never fail the originating operation.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, payload *domain.CartPayload) error
	PublishCartCleared(ctx context.Context, sessionID string) error
}

// Config tunes the ledger's debounce and persistence behavior. A
// zero PersistDelay makes persistence synchronous, which tests rely
// on. Zero debounce windows fall back to the built-in defaults.
type Config struct {
	PersistDelay         time.Duration
	AddDebounce          time.Duration
	UpdateDebounce       time.Duration
	BackgroundValidation bool
}

// Ledger is the single-writer cart state engine. All public methods
// serialize on an internal mutex.
type Ledger struct {
	mu    sync.Mutex
	state *domain.CartPayload

	selection map[string]struct{}

	store     *storage.Adapter
	catalog   Catalog
	cache     *validation.Cache
	queue     *validation.Queue
	runner    *validation.Runner
	summary   *validation.Summary
	debouncer *validation.Debouncer

	notifier  notify.Notifier
	publisher EventPublisher
	log       *slog.Logger
	cfg       Config
	now       func() time.Time

	persistTimer *time.Timer

	// version increments on every mutation; memoized derived values
	// recompute when it moves.
	version uint64
	memo    derivedMemo

	warnedNoPersist bool

	// validating is set while any validation pass, foreground or
	// flushed, talks to the catalog. The background pass yields to
	// it.
	validating atomic.Bool

	locked     bool
	lockHolder string
	lockExpiry time.Time
}

type derivedMemo struct {
	version   uint64
	itemCount int
	subtotal  float64
}

// New builds a ledger over the given collaborators. publisher may be
// nil when no event bus is configured.
func New(log *slog.Logger, store *storage.Adapter, catalog Catalog, notifier notify.Notifier, publisher EventPublisher, cfg Config) *Ledger {
	cache := validation.NewCache()
	queue := validation.NewQueue()

	l := &Ledger{
		state:     freshState(cfg.BackgroundValidation),
		selection: make(map[string]struct{}),
		store:     store,
		catalog:   catalog,
		cache:     cache,
		queue:     queue,
		runner:    validation.NewRunner(catalog, cache, queue, log),
		summary:   validation.NewSummary(),
		notifier:  notifier,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
	l.debouncer = validation.NewDebouncer(l.flushValidation)
	return l
}

func freshState(backgroundValidation bool) *domain.CartPayload {
	return &domain.CartPayload{
		Items:                       []domain.CartLine{},
		SessionID:                   domain.NewSessionID(),
		UpdatedAt:                   time.Now().UTC(),
		ValidationCache:             map[string]domain.CachedValidation{},
		BackgroundValidationEnabled: backgroundValidation,
		SavedForLater:               []domain.SavedLine{},
		Recommendations:             []domain.Product{},
	}
}

// Initialize detects the storage tier, loads any persisted payload,
// and repairs it into a usable state. A payload past the inactivity
// window is discarded and a fresh session begins.
func (l *Ledger) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kind := l.store.Detect(ctx)

	raw, err := l.store.Read(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			l.log.Warn("cart load failed, starting fresh",
				slog.String("error", err.Error()))
		}
		l.state = freshState(l.cfg.BackgroundValidation)
		l.state.StorageType = string(kind)
		return nil
	}

	res := cartdata.Validate(raw)

	if l.now().Sub(res.Fixed.UpdatedAt) > PayloadMaxAge {
		l.log.Info("persisted cart expired, starting fresh session",
			slog.String("session_id", res.Fixed.SessionID),
			slog.Time("updated_at", res.Fixed.UpdatedAt))
		if err := l.store.Remove(ctx, StorageKey); err != nil {
			l.log.Warn("remove expired cart failed", slog.String("error", err.Error()))
		}
		l.state = freshState(l.cfg.BackgroundValidation)
		l.state.StorageType = string(kind)
		l.notify(notify.Notification{
			Kind:    notify.Info,
			Title:   "Welcome back",
			Message: "Your previous cart expired, starting a new one.",
		})
		return nil
	}

	if !res.IsValid {
		l.log.Warn("persisted cart repaired on load",
			slog.Int("problems", len(res.Errors)),
			slog.String("first", res.Errors[0]))
		l.notify(notify.Notification{
			Kind:    notify.Warning,
			Title:   "Cart restored",
			Message: "Some saved cart data was invalid and has been repaired.",
		})
	}

	l.state = res.Fixed
	l.state.StorageType = string(kind)
	l.cache.Restore(l.state.ValidationCache)
	l.bump()
	return nil
}

// SessionID returns the session identifier the cart is keyed by.
func (l *Ledger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.SessionID
}

// RegenerateSession replaces the session identifier, used when the
// stored one is missing or malformed.
func (l *Ledger) RegenerateSession(ctx context.Context) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.SessionID = domain.NewSessionID()
	l.persist(ctx)
	return l.state.SessionID
}

// Items returns a copy of the current cart lines.
func (l *Ledger) Items() []domain.CartLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.CartLine, len(l.state.Items))
	copy(out, l.state.Items)
	return out
}

// SavedForLater returns a copy of the saved-for-later lines.
func (l *Ledger) SavedForLater() []domain.SavedLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.SavedLine, len(l.state.SavedForLater))
	copy(out, l.state.SavedForLater)
	return out
}

// Recommendations returns the last loaded recommendation batch.
func (l *Ledger) Recommendations() []domain.Product {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Product, len(l.state.Recommendations))
	copy(out, l.state.Recommendations)
	return out
}

// Snapshot returns a deep copy of the full payload for read-only
// consumers.
func (l *Ledger) Snapshot() domain.CartPayload {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := *l.state
	snap.Items = make([]domain.CartLine, len(l.state.Items))
	copy(snap.Items, l.state.Items)
	snap.SavedForLater = make([]domain.SavedLine, len(l.state.SavedForLater))
	copy(snap.SavedForLater, l.state.SavedForLater)
	snap.Recommendations = make([]domain.Product, len(l.state.Recommendations))
	copy(snap.Recommendations, l.state.Recommendations)
	snap.ValidationCache = l.cache.Snapshot()
	return snap
}

// ItemCount returns the sum of line quantities, memoized against the
// mutation counter.
func (l *Ledger) ItemCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshMemo()
	return l.memo.itemCount
}

// Subtotal returns the sum of price times quantity across lines.
func (l *Ledger) Subtotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshMemo()
	return l.memo.subtotal
}

// IsEmpty reports whether the cart has no lines.
func (l *Ledger) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.Items) == 0
}

// ValidationSummary exposes the diffs recorded by validation passes.
func (l *Ledger) ValidationSummary() *validation.Summary {
	return l.summary
}

func (l *Ledger) refreshMemo() {
	if l.memo.version == l.version && l.version != 0 {
		return
	}
	l.memo = derivedMemo{
		version:   l.version,
		itemCount: l.state.ItemCount(),
		subtotal:  l.state.Subtotal(),
	}
}

// bump invalidates memoized derived values. Callers hold l.mu.
func (l *Ledger) bump() {
	l.version++
}

// DefaultLockDuration is how long a checkout lock lasts when no
// explicit duration is given.
const DefaultLockDuration = 30 * time.Minute

// Lock reserves the cart for the given checkout session. Mutating
// operations fail with a conflict until Unlock or expiry. Locking
// again replaces the current lock.
func (l *Ledger) Lock(checkoutSessionID string, d time.Duration) error {
	if checkoutSessionID == "" {
		return apperrors.InvalidInput("checkout session id is required")
	}
	if d <= 0 {
		d = DefaultLockDuration
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.locked = true
	l.lockHolder = checkoutSessionID
	l.lockExpiry = l.now().Add(d)
	l.log.Info("cart locked for checkout",
		slog.String("checkout_session_id", checkoutSessionID),
		slog.Time("until", l.lockExpiry))
	return nil
}

// Unlock releases the checkout lock. A live lock held by a different
// checkout session cannot be released; an expired one can.
func (l *Ledger) Unlock(checkoutSessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if checkoutSessionID != "" && l.lockHolder != "" &&
		l.lockHolder != checkoutSessionID && l.lockedNow() {
		return apperrors.Conflict("cannot unlock cart locked by a different checkout session")
	}
	l.locked = false
	l.lockHolder = ""
	return nil
}

// IsLocked reports whether the checkout lock is held and unexpired.
func (l *Ledger) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockedNow()
}

// lockedNow checks the lock with expiry. Callers hold l.mu.
func (l *Ledger) lockedNow() bool {
	return l.locked && l.now().Before(l.lockExpiry)
}

func (l *Ledger) checkUnlocked() error {
	if l.lockedNow() {
		return apperrors.Conflict("cart is locked for checkout")
	}
	return nil
}

// persist schedules (or performs, when PersistDelay is zero) a write
// of the current state. Callers hold l.mu.
func (l *Ledger) persist(ctx context.Context) {
	l.bump()
	l.state.UpdatedAt = l.now().UTC()

	if l.cfg.PersistDelay <= 0 {
		l.doPersist(ctx)
		return
	}

	if l.persistTimer != nil {
		l.persistTimer.Stop()
	}
	l.persistTimer = time.AfterFunc(l.cfg.PersistDelay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.doPersist(context.Background())
	})
}

// doPersist writes the payload through the storage adapter. Storage
// failure degrades gracefully: the cart operation that triggered the
// write has already succeeded locally, and a write that fell back to
// a lower tier warns the user about the reduced durability. Callers
// hold l.mu.
func (l *Ledger) doPersist(ctx context.Context) {
	l.state.ValidationCache = l.cache.Snapshot()
	before := l.store.Kind()
	l.state.StorageType = string(before)

	data, err := json.Marshal(l.state)
	if err != nil {
		l.log.Error("marshal cart payload", slog.String("error", err.Error()))
		return
	}

	start := time.Now()
	err = l.store.Write(ctx, StorageKey, data)
	metrics.PersistDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		l.log.Error("persist cart failed on all tiers",
			slog.String("error", err.Error()))
		if !l.warnedNoPersist {
			l.warnedNoPersist = true
			l.notify(notify.Notification{
				Kind:    notify.Warning,
				Title:   "Storage unavailable",
				Message: "Cart changes will not survive a reload.",
			})
		}
		return
	}

	if after := l.store.Kind(); after != before {
		l.state.StorageType = string(after)
		l.warnTierFallback(after)
	}

	l.publishUpdated(ctx)
}

// warnTierFallback tells the user a write landed on a lower tier.
// Memory gets its own message because nothing survives a restart
// there. Callers hold l.mu.
func (l *Ledger) warnTierFallback(to storage.Kind) {
	if to == storage.KindMemory {
		l.notify(notify.Notification{
			Kind:    notify.Warning,
			Title:   "Storage unavailable",
			Message: "Your cart is kept in memory only and will not survive a reload.",
		})
		return
	}
	l.notify(notify.Notification{
		Kind:    notify.Warning,
		Title:   "Limited storage",
		Message: "Your cart is being saved with reduced durability.",
	})
}

// publishUpdated mirrors the current payload onto the event bus.
// Callers hold l.mu.
func (l *Ledger) publishUpdated(ctx context.Context) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishCartUpdated(ctx, l.state); err != nil {
		l.log.Error("failed to publish cart.updated event",
			slog.String("session_id", l.state.SessionID),
			slog.String("error", err.Error()))
	}
}

func (l *Ledger) publishCleared(ctx context.Context, sessionID string) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishCartCleared(ctx, sessionID); err != nil {
		l.log.Error("failed to publish cart.cleared event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (l *Ledger) notify(n notify.Notification) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(n)
}

// Close flushes any pending debounced work.
func (l *Ledger) Close() {
	l.debouncer.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.persistTimer != nil {
		if l.persistTimer.Stop() {
			l.doPersist(context.Background())
		}
		l.persistTimer = nil
	}
}

func stockError(p domain.Product, requested, existing int) error {
	available := p.Stock - existing
	if available < 0 {
		available = 0
	}
	return apperrors.InsufficientStock(p.ID, requested, available)
}

func quantityLabel(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}
