package domain

import "time"

type ProductStatus string

const (
	ProductInStock    ProductStatus = "in_stock"
	ProductLowStock   ProductStatus = "low_stock"
	ProductOutOfStock ProductStatus = "out_of_stock"
)

// StatusFor derives the product status from the current stock level and the
// configured minimum. Status is never stored independently of these two.
func StatusFor(stock int, minStockLevel int) ProductStatus {
	switch {
	case stock <= 0:
		return ProductOutOfStock
	case stock <= minStockLevel:
		return ProductLowStock
	default:
		return ProductInStock
	}
}

type Variant struct {
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	PriceCents int64  `json:"price_cents"`
	CostCents  int64  `json:"cost_cents"`
	Stock      int    `json:"stock"`
}

type Product struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Category      string        `json:"category"`
	SKU           string        `json:"sku"`
	PriceCents    int64         `json:"price_cents"`
	CostCents     int64         `json:"cost_cents"`
	Stock         int           `json:"stock"`
	MinStockLevel int           `json:"min_stock_level"`
	Status        ProductStatus `json:"status"`
	Variants      []Variant     `json:"variants,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// VariantStockSum is the parent-level aggregate for products that carry
// variants. Products without variants track stock directly.
func (p Product) VariantStockSum() int {
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	return total
}

func (p Product) FindVariant(name string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

type ProductCreateRequest struct {
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	SKU           string    `json:"sku"`
	PriceCents    int64     `json:"price_cents"`
	CostCents     int64     `json:"cost_cents"`
	InitialStock  int       `json:"initial_stock"`
	MinStockLevel int       `json:"min_stock_level"`
	Variants      []Variant `json:"variants,omitempty"`
}

type ProductUpdateRequest struct {
	Name          *string `json:"name,omitempty"`
	Category      *string `json:"category,omitempty"`
	PriceCents    *int64  `json:"price_cents,omitempty"`
	CostCents     *int64  `json:"cost_cents,omitempty"`
	MinStockLevel *int    `json:"min_stock_level,omitempty"`
}

type StockChangeType string

const (
	StockChangeInitial    StockChangeType = "initial"
	StockChangeRestock    StockChangeType = "restock"
	StockChangeSale       StockChangeType = "sale"
	StockChangeAdjustment StockChangeType = "adjustment"
)

func (t StockChangeType) Valid() bool {
	switch t {
	case StockChangeInitial, StockChangeRestock, StockChangeSale, StockChangeAdjustment:
		return true
	}
	return false
}

// StockLedgerEntry is an append-only record of a single stock mutation.
// NewStock = PreviousStock + Change holds for every entry.
type StockLedgerEntry struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	VariantName   string          `json:"variant_name,omitempty"`
	PreviousStock int             `json:"previous_stock"`
	NewStock      int             `json:"new_stock"`
	Change        int             `json:"change"`
	Type          StockChangeType `json:"type"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

func (s SaleStatus) Valid() bool {
	switch s {
	case SalePending, SaleCompleted, SaleCancelled:
		return true
	}
	return false
}

type SaleItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	VariantName    string `json:"variant_name,omitempty"`
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	PriceCents     int64  `json:"price_cents"`
	CostCents      int64  `json:"cost_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type Sale struct {
	ID            string     `json:"id"`
	Customer      string     `json:"customer"`
	Date          time.Time  `json:"date"`
	Items         []SaleItem `json:"items"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	TotalCents    int64      `json:"total_cents"`
	ProfitCents   int64      `json:"profit_cents"`
	PaymentMethod string     `json:"payment_method"`
	Notes         string     `json:"notes,omitempty"`
	Status        SaleStatus `json:"status"`
	StockApplied  bool       `json:"stock_applied"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type SaleItemRequest struct {
	ProductID   string `json:"product_id"`
	VariantName string `json:"variant_name,omitempty"`
	Quantity    int    `json:"quantity"`
}

type SaleCreateRequest struct {
	Customer      string            `json:"customer"`
	Date          *time.Time        `json:"date,omitempty"`
	Items         []SaleItemRequest `json:"items"`
	PaymentMethod string            `json:"payment_method"`
	Notes         string            `json:"notes"`
	Status        SaleStatus        `json:"status,omitempty"`
}

// SaleUpdateRequest restricts mutable fields to notes and payment method.
// Items are immutable after creation; a non-empty Items payload is rejected.
type SaleUpdateRequest struct {
	Notes         *string           `json:"notes,omitempty"`
	PaymentMethod *string           `json:"payment_method,omitempty"`
	Items         []SaleItemRequest `json:"items,omitempty"`
}

type SaleStatusRequest struct {
	Status SaleStatus `json:"status"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type NotificationType string

const (
	NotificationLowStock    NotificationType = "low_stock"
	NotificationOutOfStock  NotificationType = "out_of_stock"
	NotificationPriceChange NotificationType = "price_change"
	NotificationSale        NotificationType = "sale"
	NotificationSystem      NotificationType = "system"
)

type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	ProductID string           `json:"product_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

type RestockRequest struct {
	VariantName string `json:"variant_name,omitempty"`
	Quantity    int    `json:"quantity"`
	Notes       string `json:"notes"`
}

type AdjustStockRequest struct {
	VariantName string `json:"variant_name,omitempty"`
	NewStock    int    `json:"new_stock"`
	Reason      string `json:"reason"`
}

type ProductResponse struct {
	Product Product `json:"product"`
}

type ProductListResponse struct {
	Products []Product `json:"products"`
}

type StockHistoryResponse struct {
	History []StockLedgerEntry `json:"history"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type ClerkCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ClerkUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
	PaymentQRIS     = "qris"
)

func SupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentQRIS:
		return true
	}
	return false
}
