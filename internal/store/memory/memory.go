package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/store"
	"inventra/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	productsByID      map[string]domain.Product
	productIDBySKU    map[string]string
	historyByProduct  map[string][]domain.StockLedgerEntry
	salesByID         map[string]domain.Sale
	notificationsByID map[string]domain.Notification
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	clerkPwd := envOr("SEED_CLERK_PASSWORD", "clerk123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CLERK_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"clerk", clerkPwd, "clerk"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		productsByID:      make(map[string]domain.Product),
		productIDBySKU:    make(map[string]string),
		historyByProduct:  make(map[string][]domain.StockLedgerEntry),
		salesByID:         make(map[string]domain.Sale),
		notificationsByID: make(map[string]domain.Notification),
		usersByUsername:   seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seed := []domain.Product{
		{ID: "prod-kaos-polos", Name: "Kaos Polos", Category: "apparel", SKU: "SKU-KAOS-01", PriceCents: 8500, CostCents: 5200, MinStockLevel: 10,
			Variants: []domain.Variant{
				{Name: "S", SKU: "SKU-KAOS-01-S", PriceCents: 8500, CostCents: 5200, Stock: 30},
				{Name: "M", SKU: "SKU-KAOS-01-M", PriceCents: 8500, CostCents: 5200, Stock: 45},
				{Name: "L", SKU: "SKU-KAOS-01-L", PriceCents: 8900, CostCents: 5400, Stock: 40},
			}},
		{ID: "prod-kopi-arabika", Name: "Kopi Arabika 250g", Category: "beverage", SKU: "SKU-KOPI-01", PriceCents: 12800, CostCents: 8300, Stock: 120, MinStockLevel: 20},
		{ID: "prod-teh-hijau", Name: "Teh Hijau Celup", Category: "beverage", SKU: "SKU-TEH-01", PriceCents: 9800, CostCents: 6100, Stock: 80, MinStockLevel: 15},
		{ID: "prod-gula-aren", Name: "Gula Aren 500g", Category: "grocery", SKU: "SKU-GULA-01", PriceCents: 17400, CostCents: 12900, Stock: 60, MinStockLevel: 12},
		{ID: "prod-madu-hutan", Name: "Madu Hutan 350ml", Category: "grocery", SKU: "SKU-MADU-01", PriceCents: 45500, CostCents: 31000, Stock: 25, MinStockLevel: 8},
		{ID: "prod-sabun-sereh", Name: "Sabun Sereh", Category: "household", SKU: "SKU-SABUN-01", PriceCents: 7400, CostCents: 4100, Stock: 150, MinStockLevel: 30},
	}

	for _, p := range seed {
		if len(p.Variants) > 0 {
			p.Stock = p.VariantStockSum()
		}
		p.Status = domain.StatusFor(p.Stock, p.MinStockLevel)
		p.CreatedAt = now
		p.UpdatedAt = now
		s.productsByID[p.ID] = p
		s.productIDBySKU[p.SKU] = p.ID
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrProductNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productIDBySKU[sku]
	if !exists {
		return nil, store.ErrProductNotFound
	}
	copyProduct := cloneProduct(s.productsByID[id])
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SKU == "" || product.PriceCents < 1 || product.MinStockLevel < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productIDBySKU[product.SKU]; exists {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt
	if len(product.Variants) > 0 {
		product.Stock = product.VariantStockSum()
	}
	product.Status = domain.StatusFor(product.Stock, product.MinStockLevel)

	s.productsByID[product.ID] = cloneProduct(product)
	s.productIDBySKU[product.SKU] = product.ID
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SKU == "" || product.PriceCents < 1 || product.MinStockLevel < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists {
		return nil, store.ErrProductNotFound
	}

	// Stock is owned by ConditionalUpdateStock; carry the stored values.
	product.Stock = existing.Stock
	product.Variants = existing.Variants
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	product.Status = domain.StatusFor(product.Stock, product.MinStockLevel)

	if existing.SKU != product.SKU {
		if _, taken := s.productIDBySKU[product.SKU]; taken {
			return nil, store.ErrValidation
		}
		delete(s.productIDBySKU, existing.SKU)
		s.productIDBySKU[product.SKU] = product.ID
	}

	s.productsByID[product.ID] = cloneProduct(product)
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) ConditionalUpdateStock(_ context.Context, id string, variantName string, expectedStock int, newStock int) (int, int, error) {
	if newStock < 0 {
		return 0, 0, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[id]
	if !exists {
		return 0, 0, store.ErrProductNotFound
	}
	previousTotal := product.Stock

	if variantName == "" {
		if len(product.Variants) > 0 {
			// Parent stock of a variant product is an aggregate; it is only
			// ever rewritten through a variant update.
			return 0, 0, store.ErrValidation
		}
		if product.Stock != expectedStock {
			return 0, 0, store.ErrConcurrentModification
		}
		product.Stock = newStock
	} else {
		idx := -1
		for i := range product.Variants {
			if product.Variants[i].Name == variantName {
				idx = i
				break
			}
		}
		if idx < 0 {
			return 0, 0, store.ErrVariantNotFound
		}
		variants := make([]domain.Variant, len(product.Variants))
		copy(variants, product.Variants)
		if variants[idx].Stock != expectedStock {
			return 0, 0, store.ErrConcurrentModification
		}
		variants[idx].Stock = newStock
		product.Variants = variants
		product.Stock = product.VariantStockSum()
	}

	product.Status = domain.StatusFor(product.Stock, product.MinStockLevel)
	product.UpdatedAt = time.Now().UTC()
	s.productsByID[id] = product
	return previousTotal, product.Stock, nil
}

func (s *Store) AppendStockHistory(_ context.Context, entry domain.StockLedgerEntry) error {
	if entry.ProductID == "" || !entry.Type.Valid() {
		return store.ErrValidation
	}
	if entry.NewStock != entry.PreviousStock+entry.Change {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("stk")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.historyByProduct[entry.ProductID] = append(s.historyByProduct[entry.ProductID], entry)
	return nil
}

func (s *Store) ListStockHistory(_ context.Context, productID string, limit int) ([]domain.StockLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.historyByProduct[productID]
	result := make([]domain.StockLedgerEntry, len(history))
	copy(result, history)

	slices.SortFunc(result, func(a, b domain.StockLedgerEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SaveSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || !sale.Status.Valid() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrValidation
	}

	s.salesByID[sale.ID] = cloneSale(sale)
	saved := cloneSale(sale)
	return &saved, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrSaleNotFound
	}
	copySale := cloneSale(sale)
	return &copySale, nil
}

func (s *Store) UpdateSaleRecord(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if !sale.Status.Valid() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.salesByID[sale.ID]
	if !exists {
		return nil, store.ErrSaleNotFound
	}

	// Items are immutable after creation.
	sale.Items = existing.Items
	sale.CreatedAt = existing.CreatedAt
	sale.UpdatedAt = time.Now().UTC()

	s.salesByID[sale.ID] = cloneSale(sale)
	updated := cloneSale(sale)
	return &updated, nil
}

func (s *Store) ListSales(_ context.Context, status domain.SaleStatus, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if status != "" && sale.Status != status {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) AppendNotification(_ context.Context, entry domain.Notification) error {
	if entry.Title == "" || entry.Type == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("ntf")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.notificationsByID[entry.ID] = entry
	return nil
}

func (s *Store) ListNotifications(_ context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Notification, 0, len(s.notificationsByID))
	for _, entry := range s.notificationsByID {
		if unreadOnly && entry.Read {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.Notification) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.notificationsByID[id]
	if !exists {
		return store.ErrNotFound
	}
	entry.Read = true
	s.notificationsByID[id] = entry
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for id, entry := range s.notificationsByID {
		if entry.Read {
			continue
		}
		entry.Read = true
		s.notificationsByID[id] = entry
		marked++
	}
	return marked, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "clerk"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if len(src.Variants) > 0 {
		variants := make([]domain.Variant, len(src.Variants))
		copy(variants, src.Variants)
		dup.Variants = variants
	}
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
