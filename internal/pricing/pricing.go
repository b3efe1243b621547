// Package pricing holds the pure money arithmetic for sales: line totals,
// subtotal, total, and profit. Stored sale figures are a cache of these
// functions and must always match a recomputation over the items.
package pricing

import "inventra/backend/internal/domain"

// LineTotal is price times quantity for a single item.
func LineTotal(item domain.SaleItem) int64 {
	return item.PriceCents * int64(item.Quantity)
}

// Subtotal sums line totals over all items.
func Subtotal(items []domain.SaleItem) int64 {
	total := int64(0)
	for _, item := range items {
		total += LineTotal(item)
	}
	return total
}

// Profit is the margin over cost across all items.
func Profit(items []domain.SaleItem) int64 {
	profit := int64(0)
	for _, item := range items {
		profit += (item.PriceCents - item.CostCents) * int64(item.Quantity)
	}
	return profit
}

// Total equals Subtotal; tax is fixed at zero in this domain.
func Total(items []domain.SaleItem) int64 {
	return Subtotal(items)
}

// Reconcile recomputes every denormalized money field on the sale from its
// items, including per-item line totals. Callers use it both when building a
// sale and when repairing a persisted one before handing it out.
func Reconcile(sale domain.Sale) domain.Sale {
	for i := range sale.Items {
		sale.Items[i].LineTotalCents = LineTotal(sale.Items[i])
	}
	sale.SubtotalCents = Subtotal(sale.Items)
	sale.TaxCents = 0
	sale.TotalCents = Total(sale.Items)
	sale.ProfitCents = Profit(sale.Items)
	return sale
}

// Consistent reports whether the sale's stored money fields match a fresh
// recomputation from its items.
func Consistent(sale domain.Sale) bool {
	if sale.SubtotalCents != Subtotal(sale.Items) {
		return false
	}
	if sale.TaxCents != 0 {
		return false
	}
	if sale.TotalCents != Total(sale.Items) {
		return false
	}
	if sale.ProfitCents != Profit(sale.Items) {
		return false
	}
	for _, item := range sale.Items {
		if item.LineTotalCents != LineTotal(item) {
			return false
		}
	}
	return true
}
