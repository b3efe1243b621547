package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"inventra/backend/internal/alert"
	"inventra/backend/internal/cache"
	"inventra/backend/internal/domain"
	"inventra/backend/internal/ledger"
	"inventra/backend/internal/pricing"
	"inventra/backend/internal/store"
	"inventra/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	ledger   *ledger.Ledger
	alerts   *alert.Emitter
	cache    cache.ProductCache
	cacheTTL time.Duration
	log      *zap.Logger
}

func New(repo store.Repository, stockLedger *ledger.Ledger, alerts *alert.Emitter, productCache cache.ProductCache, cacheTTL time.Duration, log *zap.Logger) *Service {
	if productCache == nil {
		productCache = cache.NoopProductCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		ledger:   stockLedger,
		alerts:   alerts,
		cache:    productCache,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if cached, hit, err := s.cache.Get(ctx, id); err != nil {
		s.log.Warn("product cache read failed", zap.String("product_id", id), zap.Error(err))
	} else if hit {
		return *cached, nil
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.cache.Set(ctx, product, s.cacheTTL); err != nil {
		s.log.Warn("product cache write failed", zap.String("product_id", id), zap.Error(err))
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, fmt.Errorf("%w: sku, name and category are required", store.ErrValidation)
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.MinStockLevel < 0 || req.InitialStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: price, cost, minimum stock and initial stock must be sane", store.ErrValidation)
	}
	if len(req.Variants) > 0 && req.InitialStock > 0 {
		return domain.Product{}, fmt.Errorf("%w: initial stock on a variant product belongs to its variants", store.ErrValidation)
	}

	// Stock starts at zero and is brought up through the ledger below, so
	// replaying a product's history from zero always lands on its current
	// stock.
	initialStocks := make(map[string]int, len(req.Variants))
	variants := make([]domain.Variant, 0, len(req.Variants))
	for _, v := range req.Variants {
		v.Name = strings.TrimSpace(v.Name)
		v.SKU = strings.ToUpper(strings.TrimSpace(v.SKU))
		if v.Name == "" {
			return domain.Product{}, fmt.Errorf("%w: variant name is required", store.ErrValidation)
		}
		if v.Stock < 0 || v.PriceCents < 1 {
			return domain.Product{}, fmt.Errorf("%w: variant %q stock and price must be sane", store.ErrValidation, v.Name)
		}
		if _, dup := initialStocks[v.Name]; dup {
			return domain.Product{}, fmt.Errorf("%w: duplicate variant %q", store.ErrValidation, v.Name)
		}
		initialStocks[v.Name] = v.Stock
		v.Stock = 0
		variants = append(variants, v)
	}

	product := domain.Product{
		Name:          req.Name,
		Category:      req.Category,
		SKU:           req.SKU,
		PriceCents:    req.PriceCents,
		CostCents:     req.CostCents,
		Stock:         0,
		MinStockLevel: req.MinStockLevel,
		Variants:      variants,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	if len(created.Variants) > 0 {
		for _, v := range created.Variants {
			qty := initialStocks[v.Name]
			if qty == 0 {
				continue
			}
			if _, err := s.ledger.ApplyStockChange(ctx, created.ID, v.Name, qty, domain.StockChangeInitial, "initial stock"); err != nil {
				return domain.Product{}, fmt.Errorf("recording initial stock for variant %q: %w", v.Name, err)
			}
		}
	} else if req.InitialStock > 0 {
		if _, err := s.ledger.ApplyStockChange(ctx, created.ID, "", req.InitialStock, domain.StockChangeInitial, "initial stock"); err != nil {
			return domain.Product{}, fmt.Errorf("recording initial stock: %w", err)
		}
	}

	final, err := s.repo.GetProduct(ctx, created.ID)
	if err != nil {
		return domain.Product{}, err
	}
	return *final, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	oldPrice := existing.PriceCents
	if req.Name != nil {
		existing.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		existing.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		existing.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		existing.CostCents = *req.CostCents
	}
	if req.MinStockLevel != nil {
		existing.MinStockLevel = *req.MinStockLevel
	}

	updated, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, id)

	if req.PriceCents != nil && oldPrice != updated.PriceCents {
		s.alerts.OnPriceChange(ctx, updated, oldPrice, updated.PriceCents)
	}
	return *updated, nil
}

func (s *Service) ListStockHistory(ctx context.Context, productID string, limit int) ([]domain.StockLedgerEntry, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListStockHistory(ctx, productID, limit)
}

func (s *Service) RestockProduct(ctx context.Context, productID string, req domain.RestockRequest) (domain.Product, error) {
	if req.Quantity < 1 {
		return domain.Product{}, fmt.Errorf("%w: restock quantity must be at least 1", store.ErrValidation)
	}

	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		notes = "restock"
	}
	result, err := s.ledger.ApplyStockChange(ctx, productID, req.VariantName, req.Quantity, domain.StockChangeRestock, notes)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, productID)
	return *result.Product, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.AdjustStockRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if req.NewStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", store.ErrValidation)
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	current := product.Stock
	if req.VariantName != "" {
		variant, ok := product.FindVariant(req.VariantName)
		if !ok {
			return domain.Product{}, store.ErrVariantNotFound
		}
		current = variant.Stock
	} else if len(product.Variants) > 0 {
		return domain.Product{}, fmt.Errorf("%w: product %s tracks stock per variant", store.ErrValidation, productID)
	}

	delta := req.NewStock - current
	if delta == 0 {
		return *product, nil
	}

	notes := strings.TrimSpace(req.Reason)
	if notes == "" {
		notes = "manual adjustment"
	}
	result, err := s.ledger.ApplyStockChange(ctx, productID, req.VariantName, delta, domain.StockChangeAdjustment, notes)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, productID)
	s.alerts.OnStockAdjusted(ctx, result.Product, current, req.NewStock, req.Reason)
	return *result.Product, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: a sale needs at least one item", store.ErrValidation)
	}

	status := req.Status
	if status == "" {
		status = domain.SalePending
	}
	if status != domain.SalePending && status != domain.SaleCompleted {
		return domain.Sale{}, fmt.Errorf("%w: a sale starts as pending or completed", store.ErrValidation)
	}

	payment := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if payment == "" {
		payment = domain.PaymentCash
	}
	if !domain.SupportedPaymentMethod(payment) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}

	saleID := xid.New("sale")
	date := time.Now().UTC()
	if req.Date != nil {
		date = req.Date.UTC()
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.Sale{}, fmt.Errorf("%w: quantity for product %s must be at least 1", store.ErrValidation, line.ProductID)
		}
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			return domain.Sale{}, err
		}

		item := domain.SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			SKU:         product.SKU,
			Quantity:    line.Quantity,
			PriceCents:  product.PriceCents,
			CostCents:   product.CostCents,
		}
		if line.VariantName != "" {
			variant, ok := product.FindVariant(line.VariantName)
			if !ok {
				return domain.Sale{}, fmt.Errorf("%w: product %s has no variant %q", store.ErrVariantNotFound, product.ID, line.VariantName)
			}
			item.VariantName = variant.Name
			item.SKU = variant.SKU
			item.PriceCents = variant.PriceCents
			item.CostCents = variant.CostCents
		} else if len(product.Variants) > 0 {
			return domain.Sale{}, fmt.Errorf("%w: product %s is sold per variant", store.ErrValidation, product.ID)
		}
		items = append(items, item)
	}

	sale := domain.Sale{
		ID:            saleID,
		Customer:      strings.TrimSpace(req.Customer),
		Date:          date,
		Items:         items,
		PaymentMethod: payment,
		Notes:         strings.TrimSpace(req.Notes),
		Status:        status,
	}
	sale = pricing.Reconcile(sale)

	// Stock comes off at creation for pending and completed sales alike.
	// Either every line is decremented or none are.
	if err := s.applySaleStock(ctx, &sale); err != nil {
		return domain.Sale{}, err
	}
	sale.StockApplied = true

	saved, err := s.repo.SaveSale(ctx, sale)
	if err != nil {
		if rerr := s.restoreSaleStock(ctx, &sale, fmt.Sprintf("reversal of unsaved sale %s", sale.ID)); rerr != nil {
			s.log.Error("failed to restore stock for unsaved sale", zap.String("sale_id", sale.ID), zap.Error(rerr))
		}
		return domain.Sale{}, err
	}

	s.invalidateSaleProducts(ctx, saved)
	s.alerts.OnSaleCreated(ctx, saved)
	return *saved, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if !pricing.Consistent(*sale) {
		s.log.Warn("sale money fields drifted from items, recomputing", zap.String("sale_id", id))
	}
	return pricing.Reconcile(*sale), nil
}

func (s *Service) ListSales(ctx context.Context, status domain.SaleStatus, limit int) ([]domain.Sale, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown sale status %q", store.ErrValidation, status)
	}
	sales, err := s.repo.ListSales(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i] = pricing.Reconcile(sales[i])
	}
	return sales, nil
}

func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	if len(req.Items) > 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale items cannot be changed after creation", store.ErrValidation)
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	if req.Notes != nil {
		sale.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.PaymentMethod != nil {
		payment := strings.ToLower(strings.TrimSpace(*req.PaymentMethod))
		if !domain.SupportedPaymentMethod(payment) {
			return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, *req.PaymentMethod)
		}
		sale.PaymentMethod = payment
	}

	updated, err := s.repo.UpdateSaleRecord(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}
	return pricing.Reconcile(*updated), nil
}

// UpdateSaleStatus drives the sale state machine. Cancelled is terminal.
// Moving away from a stock-applied state restores every line; moving back
// into completed re-takes the stock and can fail on availability.
func (s *Service) UpdateSaleStatus(ctx context.Context, id string, next domain.SaleStatus) (domain.Sale, error) {
	if !next.Valid() {
		return domain.Sale{}, fmt.Errorf("%w: unknown sale status %q", store.ErrValidation, next)
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == next {
		return pricing.Reconcile(*sale), nil
	}
	if sale.Status == domain.SaleCancelled {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is cancelled", store.ErrInvalidTransition, id)
	}

	switch next {
	case domain.SaleCompleted:
		if !sale.StockApplied {
			if err := s.applySaleStock(ctx, sale); err != nil {
				return domain.Sale{}, err
			}
			sale.StockApplied = true
		}
	case domain.SalePending:
		if sale.StockApplied {
			if err := s.restoreSaleStock(ctx, sale, fmt.Sprintf("sale %s moved back to pending", id)); err != nil {
				return domain.Sale{}, err
			}
			sale.StockApplied = false
		}
	case domain.SaleCancelled:
		if sale.StockApplied {
			if err := s.restoreSaleStock(ctx, sale, fmt.Sprintf("sale %s cancelled", id)); err != nil {
				return domain.Sale{}, err
			}
			sale.StockApplied = false
		}
	}

	sale.Status = next
	updated, err := s.repo.UpdateSaleRecord(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}
	s.invalidateSaleProducts(ctx, updated)
	return pricing.Reconcile(*updated), nil
}

// applySaleStock decrements stock for every line of the sale. On any
// failure the lines already taken are handed back in reverse order, so
// the sale either holds all of its stock or none of it.
func (s *Service) applySaleStock(ctx context.Context, sale *domain.Sale) error {
	applied := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		_, err := s.ledger.ApplyStockChange(ctx, item.ProductID, item.VariantName, -item.Quantity, domain.StockChangeSale, fmt.Sprintf("sale %s", sale.ID))
		if err != nil {
			for i := len(applied) - 1; i >= 0; i-- {
				taken := applied[i]
				if _, rerr := s.ledger.ApplyStockChange(ctx, taken.ProductID, taken.VariantName, taken.Quantity, domain.StockChangeAdjustment, fmt.Sprintf("reversal for failed sale %s", sale.ID)); rerr != nil {
					s.log.Error("failed to reverse stock for aborted sale",
						zap.String("sale_id", sale.ID),
						zap.String("product_id", taken.ProductID),
						zap.String("variant", taken.VariantName),
						zap.Int("quantity", taken.Quantity),
						zap.Error(rerr),
					)
				}
			}
			return err
		}
		applied = append(applied, item)
	}
	return nil
}

// restoreSaleStock hands back the stock a sale was holding. On any failure
// the lines already handed back are taken again in reverse order and the
// first error is returned, so the sale keeps holding either all of its
// stock or none of it.
func (s *Service) restoreSaleStock(ctx context.Context, sale *domain.Sale, notes string) error {
	restored := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		_, err := s.ledger.ApplyStockChange(ctx, item.ProductID, item.VariantName, item.Quantity, domain.StockChangeAdjustment, notes)
		if err != nil {
			for i := len(restored) - 1; i >= 0; i-- {
				given := restored[i]
				if _, rerr := s.ledger.ApplyStockChange(ctx, given.ProductID, given.VariantName, -given.Quantity, domain.StockChangeAdjustment, fmt.Sprintf("reversal for failed restore of sale %s", sale.ID)); rerr != nil {
					s.log.Error("failed to re-take stock for aborted restore",
						zap.String("sale_id", sale.ID),
						zap.String("product_id", given.ProductID),
						zap.String("variant", given.VariantName),
						zap.Int("quantity", given.Quantity),
						zap.Error(rerr),
					)
				}
			}
			return err
		}
		restored = append(restored, item)
	}
	return nil
}

func (s *Service) ListNotifications(ctx context.Context, unreadOnly bool, limit int) (domain.NotificationListResponse, error) {
	notifications, err := s.repo.ListNotifications(ctx, unreadOnly, limit)
	if err != nil {
		return domain.NotificationListResponse{}, err
	}
	unread, err := s.repo.ListNotifications(ctx, true, 0)
	if err != nil {
		return domain.NotificationListResponse{}, err
	}
	return domain.NotificationListResponse{
		Notifications: notifications,
		UnreadCount:   len(unread),
	}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	return s.repo.MarkAllNotificationsRead(ctx)
}

func (s *Service) invalidate(ctx context.Context, productIDs ...string) {
	if err := s.cache.Invalidate(ctx, productIDs...); err != nil {
		s.log.Warn("product cache invalidation failed", zap.Strings("product_ids", productIDs), zap.Error(err))
	}
}

func (s *Service) invalidateSaleProducts(ctx context.Context, sale *domain.Sale) {
	seen := make(map[string]struct{}, len(sale.Items))
	ids := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		if _, dup := seen[item.ProductID]; dup {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	s.invalidate(ctx, ids...)
}
