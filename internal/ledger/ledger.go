// Package ledger owns every stock mutation. All writes go through a
// compare-and-swap against the stock value read at the start of the
// attempt, so two concurrent sellers can never both take the last unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/store"
	"inventra/backend/internal/xid"
)

const maxAttempts = 3

// Observer is told about every committed stock change. Implementations
// decide which transitions are worth acting on.
type Observer interface {
	OnStockTransition(ctx context.Context, product *domain.Product, previous domain.ProductStatus, next domain.ProductStatus)
}

type Ledger struct {
	repo     store.Repository
	observer Observer
	log      *zap.Logger
}

func New(repo store.Repository, observer Observer, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{repo: repo, observer: observer, log: log}
}

// Result describes a committed stock change. Product carries the
// post-change state, PreviousStock and NewStock are scoped to the
// target (the variant when variantName was given, the product
// otherwise), and the status pair is always product level.
type Result struct {
	Product        *domain.Product
	PreviousStock  int
	NewStock       int
	PreviousStatus domain.ProductStatus
	NewStatus      domain.ProductStatus
	Entry          *domain.StockLedgerEntry
}

// ApplyStockChange moves stock by delta and appends the matching
// history entry. A product that has variants must be addressed through
// one of them. The call retries a bounded number of times when another
// writer races it, and either commits both the stock change and the
// history entry or leaves stock untouched.
func (l *Ledger) ApplyStockChange(ctx context.Context, productID string, variantName string, delta int, changeType domain.StockChangeType, notes string) (*Result, error) {
	if !changeType.Valid() {
		return nil, fmt.Errorf("%w: unknown stock change type %q", store.ErrValidation, changeType)
	}
	if delta == 0 {
		return nil, fmt.Errorf("%w: stock change must be non-zero", store.ErrValidation)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := l.attempt(ctx, productID, variantName, delta, changeType, notes)
		if err == nil {
			if l.observer != nil {
				l.observer.OnStockTransition(ctx, result.Product, result.PreviousStatus, result.NewStatus)
			}
			return result, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, err
		}

		lastErr = err
		l.log.Debug("stock change lost the race, retrying",
			zap.String("product_id", productID),
			zap.String("variant", variantName),
			zap.Int("attempt", attempt),
		)
		time.Sleep(time.Duration(2+rand.Intn(8)) * time.Millisecond)
	}

	return nil, fmt.Errorf("stock change for product %s gave up after %d attempts: %w", productID, maxAttempts, lastErr)
}

func (l *Ledger) attempt(ctx context.Context, productID string, variantName string, delta int, changeType domain.StockChangeType, notes string) (*Result, error) {
	product, err := l.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	current := product.Stock
	if variantName != "" {
		variant, ok := product.FindVariant(variantName)
		if !ok {
			return nil, fmt.Errorf("%w: product %s has no variant %q", store.ErrVariantNotFound, productID, variantName)
		}
		current = variant.Stock
	} else if len(product.Variants) > 0 {
		return nil, fmt.Errorf("%w: product %s tracks stock per variant", store.ErrValidation, productID)
	}

	next := current + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: product %s has %d in stock, change of %d requested", store.ErrInsufficientStock, productID, current, delta)
	}

	// The status pair is derived from the totals the store observed inside
	// the CAS, not this snapshot: for a multi-variant product another
	// variant may have moved between the read above and the write.
	previousProductStock, newProductStock, err := l.repo.ConditionalUpdateStock(ctx, productID, variantName, current, next)
	if err != nil {
		return nil, err
	}
	previousStatus := domain.StatusFor(previousProductStock, product.MinStockLevel)

	entry := &domain.StockLedgerEntry{
		ID:            xid.New("stk"),
		ProductID:     productID,
		VariantName:   variantName,
		PreviousStock: current,
		NewStock:      next,
		Change:        delta,
		Type:          changeType,
		Notes:         notes,
		CreatedAt:     time.Now().UTC(),
	}
	if err := l.repo.AppendStockHistory(ctx, *entry); err != nil {
		l.rollback(ctx, productID, variantName, next, current)
		return nil, fmt.Errorf("recording stock history for product %s: %w", productID, err)
	}

	newStatus := domain.StatusFor(newProductStock, product.MinStockLevel)

	product.Stock = newProductStock
	product.Status = newStatus
	product.UpdatedAt = entry.CreatedAt
	if variantName != "" {
		for i := range product.Variants {
			if product.Variants[i].Name == variantName {
				product.Variants[i].Stock = next
			}
		}
	}

	return &Result{
		Product:        product,
		PreviousStock:  current,
		NewStock:       next,
		PreviousStatus: previousStatus,
		NewStatus:      newStatus,
		Entry:          entry,
	}, nil
}

// rollback undoes a stock write whose history entry could not be
// recorded, so a failed ApplyStockChange never leaves stock moved.
func (l *Ledger) rollback(ctx context.Context, productID string, variantName string, from int, to int) {
	if _, _, err := l.repo.ConditionalUpdateStock(ctx, productID, variantName, from, to); err != nil {
		l.log.Error("failed to roll back stock after history append error",
			zap.String("product_id", productID),
			zap.String("variant", variantName),
			zap.Int("stuck_at", from),
			zap.Int("wanted", to),
			zap.Error(err),
		)
	}
}
