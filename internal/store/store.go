package store

import (
	"context"
	"errors"

	"inventra/backend/internal/domain"
)

var (
	ErrValidation             = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrProductNotFound        = errors.New("product not found")
	ErrVariantNotFound        = errors.New("variant not found")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("concurrent stock modification")
)

// Repository is the catalog store plus the persistence layer the engine
// writes through. All stock mutation goes through ConditionalUpdateStock;
// nothing else may write the stock column.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// ConditionalUpdateStock applies a compare-and-swap on the product's (or,
	// when variantName is set, the variant's) stock: the write succeeds only
	// if the stored stock still equals expectedStock, otherwise it fails with
	// ErrConcurrentModification. When a variant changes, the parent product's
	// aggregate stock is recomputed as the sum of variant stocks in the same
	// atomic unit. Status is re-derived from the resulting stock. The returned
	// totals are the product-level stock before and after the write, observed
	// inside the same atomic unit, so callers can derive status edges from
	// stored values rather than a stale snapshot.
	ConditionalUpdateStock(ctx context.Context, id string, variantName string, expectedStock int, newStock int) (previousTotal int, newTotal int, err error)

	AppendStockHistory(ctx context.Context, entry domain.StockLedgerEntry) error
	ListStockHistory(ctx context.Context, productID string, limit int) ([]domain.StockLedgerEntry, error)

	SaveSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSaleRecord(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, status domain.SaleStatus, limit int) ([]domain.Sale, error)

	AppendNotification(ctx context.Context, entry domain.Notification) error
	ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) (int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
