package memory

import (
	"context"
	"errors"
	"testing"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/store"
)

func createProduct(t *testing.T, s *Store, p domain.Product) *domain.Product {
	t.Helper()
	created, err := s.CreateProduct(context.Background(), p)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return created
}

func TestConditionalUpdateStockCAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	product := createProduct(t, s, domain.Product{
		Name: "Widget", Category: "test", SKU: "SKU-W", PriceCents: 500, Stock: 10, MinStockLevel: 3,
	})

	prev, now, err := s.ConditionalUpdateStock(ctx, product.ID, "", 10, 7)
	if err != nil {
		t.Fatalf("cas with correct expectation: %v", err)
	}
	if prev != 10 || now != 7 {
		t.Fatalf("expected totals 10 -> 7, got %d -> %d", prev, now)
	}
	if _, _, err := s.ConditionalUpdateStock(ctx, product.ID, "", 10, 5); !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification on stale expectation, got %v", err)
	}
	if _, _, err := s.ConditionalUpdateStock(ctx, product.ID, "", 7, -1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative stock, got %v", err)
	}
	if _, _, err := s.ConditionalUpdateStock(ctx, "missing", "", 1, 2); !errors.Is(err, store.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	stored, _ := s.GetProduct(ctx, product.ID)
	if stored.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", stored.Stock)
	}
	if stored.Status != domain.ProductInStock {
		t.Fatalf("expected in_stock, got %s", stored.Status)
	}
}

func TestConditionalUpdateStockVariants(t *testing.T) {
	s := New()
	ctx := context.Background()
	product := createProduct(t, s, domain.Product{
		Name: "Shirt", Category: "apparel", SKU: "SKU-S", PriceCents: 2000, MinStockLevel: 4,
		Variants: []domain.Variant{
			{Name: "S", SKU: "SKU-S-S", PriceCents: 2000, Stock: 2},
			{Name: "M", SKU: "SKU-S-M", PriceCents: 2000, Stock: 5},
		},
	})
	if product.Stock != 7 {
		t.Fatalf("expected aggregate 7, got %d", product.Stock)
	}

	// The parent of a variant product cannot be written directly.
	if _, _, err := s.ConditionalUpdateStock(ctx, product.ID, "", 7, 6); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation on parent write, got %v", err)
	}
	if _, _, err := s.ConditionalUpdateStock(ctx, product.ID, "XL", 1, 2); !errors.Is(err, store.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}

	prev, now, err := s.ConditionalUpdateStock(ctx, product.ID, "M", 5, 1)
	if err != nil {
		t.Fatalf("variant cas: %v", err)
	}
	if prev != 7 || now != 3 {
		t.Fatalf("expected aggregate totals 7 -> 3, got %d -> %d", prev, now)
	}
	stored, _ := s.GetProduct(ctx, product.ID)
	if stored.Stock != 3 {
		t.Fatalf("expected aggregate 3, got %d", stored.Stock)
	}
	if stored.Status != domain.ProductLowStock {
		t.Fatalf("expected low_stock, got %s", stored.Status)
	}
}

func TestAppendStockHistoryValidatesArithmetic(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.AppendStockHistory(ctx, domain.StockLedgerEntry{
		ProductID: "p1", PreviousStock: 5, NewStock: 3, Change: -1, Type: domain.StockChangeSale,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for broken arithmetic, got %v", err)
	}

	err = s.AppendStockHistory(ctx, domain.StockLedgerEntry{
		ProductID: "p1", PreviousStock: 5, NewStock: 3, Change: -2, Type: domain.StockChangeSale,
	})
	if err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}
}

func TestUpdateProductPreservesStockAndVariants(t *testing.T) {
	s := New()
	ctx := context.Background()
	product := createProduct(t, s, domain.Product{
		Name: "Widget", Category: "test", SKU: "SKU-W", PriceCents: 500, Stock: 10, MinStockLevel: 3,
	})

	product.Name = "Widget v2"
	product.Stock = 999
	updated, err := s.UpdateProduct(ctx, *product)
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if updated.Stock != 10 {
		t.Fatalf("expected stock preserved at 10, got %d", updated.Stock)
	}
	if updated.Name != "Widget v2" {
		t.Fatalf("expected name updated, got %s", updated.Name)
	}
}

func TestUpdateSaleRecordPreservesItems(t *testing.T) {
	s := New()
	ctx := context.Background()

	saved, err := s.SaveSale(ctx, domain.Sale{
		Items:         []domain.SaleItem{{ProductID: "p1", Quantity: 2, PriceCents: 100}},
		PaymentMethod: domain.PaymentCash,
		Status:        domain.SaleCompleted,
	})
	if err != nil {
		t.Fatalf("save sale: %v", err)
	}

	saved.Items = []domain.SaleItem{{ProductID: "p2", Quantity: 9, PriceCents: 1}}
	saved.Status = domain.SalePending
	updated, err := s.UpdateSaleRecord(ctx, *saved)
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if len(updated.Items) != 1 || updated.Items[0].ProductID != "p1" {
		t.Fatalf("expected items preserved, got %+v", updated.Items)
	}
	if updated.Status != domain.SalePending {
		t.Fatalf("expected status updated, got %s", updated.Status)
	}
}

func TestSKUIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	createProduct(t, s, domain.Product{
		Name: "Widget", Category: "test", SKU: "SKU-W", PriceCents: 500, Stock: 1,
	})

	if _, err := s.CreateProduct(ctx, domain.Product{
		Name: "Clone", Category: "test", SKU: "SKU-W", PriceCents: 500,
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate SKU rejected, got %v", err)
	}

	found, err := s.GetProductBySKU(ctx, "SKU-W")
	if err != nil {
		t.Fatalf("get by sku: %v", err)
	}
	if found.Name != "Widget" {
		t.Fatalf("expected Widget, got %s", found.Name)
	}
}
