package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/store"
	"inventra/backend/internal/store/memory"
)

func newTestProduct(t *testing.T, repo *memory.Store, stock int, minLevel int) *domain.Product {
	t.Helper()
	created, err := repo.CreateProduct(context.Background(), domain.Product{
		Name:          "Test Product",
		Category:      "test",
		SKU:           "SKU-TEST-01",
		PriceCents:    1000,
		CostCents:     600,
		Stock:         stock,
		MinStockLevel: minLevel,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return created
}

func TestApplyStockChangeCrossesIntoLowStock(t *testing.T) {
	repo := memory.New()
	led := New(repo, nil, nil)
	product := newTestProduct(t, repo, 10, 5)

	result, err := led.ApplyStockChange(context.Background(), product.ID, "", -6, domain.StockChangeSale, "sale test")
	if err != nil {
		t.Fatalf("apply stock change: %v", err)
	}
	if result.PreviousStock != 10 || result.NewStock != 4 {
		t.Fatalf("expected 10 -> 4, got %d -> %d", result.PreviousStock, result.NewStock)
	}
	if result.PreviousStatus != domain.ProductInStock {
		t.Fatalf("expected previous status in_stock, got %s", result.PreviousStatus)
	}
	if result.NewStatus != domain.ProductLowStock {
		t.Fatalf("expected new status low_stock, got %s", result.NewStatus)
	}

	stored, err := repo.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.Stock != 4 || stored.Status != domain.ProductLowStock {
		t.Fatalf("expected stored stock 4 low_stock, got %d %s", stored.Stock, stored.Status)
	}
}

func TestHistoryReplayReproducesCurrentStock(t *testing.T) {
	repo := memory.New()
	led := New(repo, nil, nil)
	product := newTestProduct(t, repo, 0, 5)
	ctx := context.Background()

	changes := []struct {
		delta int
		typ   domain.StockChangeType
	}{
		{10, domain.StockChangeInitial},
		{-6, domain.StockChangeSale},
		{2, domain.StockChangeRestock},
		{-1, domain.StockChangeAdjustment},
	}
	for _, c := range changes {
		if _, err := led.ApplyStockChange(ctx, product.ID, "", c.delta, c.typ, ""); err != nil {
			t.Fatalf("apply %d: %v", c.delta, err)
		}
	}

	history, err := repo.ListStockHistory(ctx, product.ID, 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != len(changes) {
		t.Fatalf("expected %d entries, got %d", len(changes), len(history))
	}

	replayed := 0
	for _, entry := range history {
		if entry.NewStock != entry.PreviousStock+entry.Change {
			t.Fatalf("entry %s breaks the ledger arithmetic", entry.ID)
		}
		replayed += entry.Change
	}

	stored, err := repo.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if replayed != stored.Stock {
		t.Fatalf("replay gives %d, stored stock is %d", replayed, stored.Stock)
	}
	if stored.Stock != 5 {
		t.Fatalf("expected final stock 5, got %d", stored.Stock)
	}
}

func TestInsufficientStockLeavesNoTrace(t *testing.T) {
	repo := memory.New()
	led := New(repo, nil, nil)
	product := newTestProduct(t, repo, 4, 2)
	ctx := context.Background()

	_, err := led.ApplyStockChange(ctx, product.ID, "", -5, domain.StockChangeSale, "")
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	stored, err := repo.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.Stock != 4 {
		t.Fatalf("expected stock untouched at 4, got %d", stored.Stock)
	}
	history, err := repo.ListStockHistory(ctx, product.ID, 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history entries, got %d", len(history))
	}
}

func TestZeroDeltaAndBadTypeRejected(t *testing.T) {
	repo := memory.New()
	led := New(repo, nil, nil)
	product := newTestProduct(t, repo, 4, 2)
	ctx := context.Background()

	if _, err := led.ApplyStockChange(ctx, product.ID, "", 0, domain.StockChangeSale, ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero delta, got %v", err)
	}
	if _, err := led.ApplyStockChange(ctx, product.ID, "", 1, domain.StockChangeType("bogus"), ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for bogus type, got %v", err)
	}
}

func TestVariantChangeUpdatesParentAggregate(t *testing.T) {
	repo := memory.New()
	led := New(repo, nil, nil)
	ctx := context.Background()

	created, err := repo.CreateProduct(ctx, domain.Product{
		Name:          "Shirt",
		Category:      "apparel",
		SKU:           "SKU-SHIRT-01",
		PriceCents:    2000,
		MinStockLevel: 5,
		Variants: []domain.Variant{
			{Name: "S", SKU: "SKU-SHIRT-01-S", PriceCents: 2000, Stock: 3},
			{Name: "M", SKU: "SKU-SHIRT-01-M", PriceCents: 2000, Stock: 7},
		},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	result, err := led.ApplyStockChange(ctx, created.ID, "M", -2, domain.StockChangeSale, "")
	if err != nil {
		t.Fatalf("apply variant change: %v", err)
	}
	if result.NewStock != 5 {
		t.Fatalf("expected variant stock 5, got %d", result.NewStock)
	}
	if result.Product.Stock != 8 {
		t.Fatalf("expected parent aggregate 8, got %d", result.Product.Stock)
	}

	// Direct product-level writes are rejected while variants exist.
	if _, err := led.ApplyStockChange(ctx, created.ID, "", -1, domain.StockChangeSale, ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for product-level change, got %v", err)
	}
	if _, err := led.ApplyStockChange(ctx, created.ID, "XL", -1, domain.StockChangeSale, ""); !errors.Is(err, store.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	repo := memory.New()
	led := New(repo, nil, nil)
	product := newTestProduct(t, repo, 5, 0)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = led.ApplyStockChange(ctx, product.ID, "", -1, domain.StockChangeSale, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, store.ErrInsufficientStock) && !errors.Is(err, store.ErrConcurrentModification) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded > 5 {
		t.Fatalf("oversold: %d sales succeeded with only 5 in stock", succeeded)
	}

	stored, err := repo.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.Stock != 5-succeeded {
		t.Fatalf("expected stock %d, got %d", 5-succeeded, stored.Stock)
	}
	if stored.Stock < 0 {
		t.Fatalf("stock went negative: %d", stored.Stock)
	}
}

// flakyStore fails ConditionalUpdateStock a fixed number of times before
// delegating to the real store.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) ConditionalUpdateStock(ctx context.Context, id string, variantName string, expectedStock int, newStock int) (int, int, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return 0, 0, store.ErrConcurrentModification
	}
	f.mu.Unlock()
	return f.Store.ConditionalUpdateStock(ctx, id, variantName, expectedStock, newStock)
}

func TestRetriesAfterLosingTheRace(t *testing.T) {
	repo := memory.New()
	product := newTestProduct(t, repo, 10, 2)
	flaky := &flakyStore{Store: repo, failures: 2}
	led := New(flaky, nil, nil)

	result, err := led.ApplyStockChange(context.Background(), product.ID, "", -3, domain.StockChangeSale, "")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if result.NewStock != 7 {
		t.Fatalf("expected stock 7, got %d", result.NewStock)
	}
}

func TestGivesUpAfterBoundedRetries(t *testing.T) {
	repo := memory.New()
	product := newTestProduct(t, repo, 10, 2)
	flaky := &flakyStore{Store: repo, failures: 100}
	led := New(flaky, nil, nil)

	_, err := led.ApplyStockChange(context.Background(), product.ID, "", -3, domain.StockChangeSale, "")
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected wrapped ErrConcurrentModification, got %v", err)
	}
}

// recordingObserver collects every committed status pair.
type recordingObserver struct {
	transitions [][2]domain.ProductStatus
}

func (r *recordingObserver) OnStockTransition(_ context.Context, _ *domain.Product, previous domain.ProductStatus, next domain.ProductStatus) {
	r.transitions = append(r.transitions, [2]domain.ProductStatus{previous, next})
}

// interleavingStore runs a hook right before delegating the CAS, letting
// a test commit a competing write between the read and the write.
type interleavingStore struct {
	*memory.Store
	mu     sync.Mutex
	before func()
}

func (i *interleavingStore) ConditionalUpdateStock(ctx context.Context, id string, variantName string, expectedStock int, newStock int) (int, int, error) {
	i.mu.Lock()
	hook := i.before
	i.before = nil
	i.mu.Unlock()
	if hook != nil {
		hook()
	}
	return i.Store.ConditionalUpdateStock(ctx, id, variantName, expectedStock, newStock)
}

func TestStatusEdgeUsesStoredTotals(t *testing.T) {
	base := memory.New()
	repo := &interleavingStore{Store: base}
	observer := &recordingObserver{}
	led := New(repo, observer, nil)
	ctx := context.Background()

	product, err := base.CreateProduct(ctx, domain.Product{
		Name: "Shirt", Category: "apparel", SKU: "SKU-EDGE", PriceCents: 2000, MinStockLevel: 4,
		Variants: []domain.Variant{
			{Name: "A", SKU: "SKU-EDGE-A", PriceCents: 2000, Stock: 5},
			{Name: "B", SKU: "SKU-EDGE-B", PriceCents: 2000, Stock: 5},
		},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	// Another writer empties variant B after the ledger has read the
	// product but before it writes variant A. The aggregate the ledger
	// read (10) is stale by the time the CAS lands.
	repo.before = func() {
		if _, _, err := base.ConditionalUpdateStock(ctx, product.ID, "B", 5, 0); err != nil {
			t.Errorf("competing variant write: %v", err)
		}
	}

	result, err := led.ApplyStockChange(ctx, product.ID, "A", -2, domain.StockChangeSale, "")
	if err != nil {
		t.Fatalf("apply stock change: %v", err)
	}
	if result.Product.Stock != 3 {
		t.Fatalf("expected aggregate 3, got %d", result.Product.Stock)
	}
	if result.PreviousStatus != domain.ProductInStock || result.NewStatus != domain.ProductLowStock {
		t.Fatalf("expected in_stock -> low_stock, got %s -> %s", result.PreviousStatus, result.NewStatus)
	}
	want := [2]domain.ProductStatus{domain.ProductInStock, domain.ProductLowStock}
	if len(observer.transitions) != 1 || observer.transitions[0] != want {
		t.Fatalf("expected exactly one %v transition, got %v", want, observer.transitions)
	}
}
