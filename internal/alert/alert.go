// Package alert turns stock and sale events into stored notifications.
// Emission is edge triggered on status transitions, so a product sitting
// at low stock produces one alert when it crosses the threshold, not one
// per subsequent sale. Failures to store a notification are logged and
// never propagated to the caller.
package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/xid"
)

// NotificationStore is the slice of the repository the emitter needs.
type NotificationStore interface {
	AppendNotification(ctx context.Context, entry domain.Notification) error
}

type Emitter struct {
	repo NotificationStore
	log  *zap.Logger
}

func New(repo NotificationStore, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{repo: repo, log: log}
}

// OnStockTransition implements ledger.Observer. It fires only on the
// worsening edges: entering low stock from in stock, and entering out of
// stock from anywhere else. Recovery transitions and repeat states emit
// nothing.
func (e *Emitter) OnStockTransition(ctx context.Context, product *domain.Product, previous domain.ProductStatus, next domain.ProductStatus) {
	if previous == next {
		return
	}

	switch next {
	case domain.ProductOutOfStock:
		e.emit(ctx, domain.Notification{
			Type:      domain.NotificationOutOfStock,
			Title:     "Out of stock",
			Message:   fmt.Sprintf("%s (%s) is out of stock", product.Name, product.SKU),
			ProductID: product.ID,
		})
	case domain.ProductLowStock:
		if previous != domain.ProductInStock {
			return
		}
		e.emit(ctx, domain.Notification{
			Type:      domain.NotificationLowStock,
			Title:     "Low stock",
			Message:   fmt.Sprintf("%s (%s) is down to %d units, minimum is %d", product.Name, product.SKU, product.Stock, product.MinStockLevel),
			ProductID: product.ID,
		})
	}
}

// OnSaleCreated records a sale notification for the activity feed.
func (e *Emitter) OnSaleCreated(ctx context.Context, sale *domain.Sale) {
	msg := fmt.Sprintf("Sale %s (%s), total %s", sale.ID, sale.Status, formatCents(sale.TotalCents))
	if sale.Customer != "" {
		msg = fmt.Sprintf("Sale %s (%s) for %s, total %s", sale.ID, sale.Status, sale.Customer, formatCents(sale.TotalCents))
	}
	e.emit(ctx, domain.Notification{
		Type:    domain.NotificationSale,
		Title:   "New sale",
		Message: msg,
	})
}

// OnPriceChange records a price change notification for a product whose
// selling price was edited.
func (e *Emitter) OnPriceChange(ctx context.Context, product *domain.Product, oldPriceCents int64, newPriceCents int64) {
	if oldPriceCents == newPriceCents {
		return
	}
	e.emit(ctx, domain.Notification{
		Type:      domain.NotificationPriceChange,
		Title:     "Price changed",
		Message:   fmt.Sprintf("%s price changed from %s to %s", product.Name, formatCents(oldPriceCents), formatCents(newPriceCents)),
		ProductID: product.ID,
	})
}

// OnStockAdjusted records a system notification for a manual stock
// correction, so audit review can separate corrections from sales flow.
func (e *Emitter) OnStockAdjusted(ctx context.Context, product *domain.Product, previousStock int, newStock int, reason string) {
	msg := fmt.Sprintf("%s stock adjusted from %d to %d", product.Name, previousStock, newStock)
	if reason != "" {
		msg += ": " + reason
	}
	e.emit(ctx, domain.Notification{
		Type:      domain.NotificationSystem,
		Title:     "Stock adjusted",
		Message:   msg,
		ProductID: product.ID,
	})
}

func (e *Emitter) emit(ctx context.Context, entry domain.Notification) {
	entry.ID = xid.New("ntf")
	entry.CreatedAt = time.Now().UTC()
	if err := e.repo.AppendNotification(ctx, entry); err != nil {
		e.log.Warn("failed to store notification",
			zap.String("type", string(entry.Type)),
			zap.String("product_id", entry.ProductID),
			zap.Error(err),
		)
	}
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
