package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/store"
	"inventra/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables on first boot. Statements are idempotent
// so repeated startups are safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id              text PRIMARY KEY,
			name            text NOT NULL,
			category        text NOT NULL,
			sku             text NOT NULL UNIQUE,
			price_cents     bigint NOT NULL,
			cost_cents      bigint NOT NULL DEFAULT 0,
			stock           integer NOT NULL DEFAULT 0,
			min_stock_level integer NOT NULL DEFAULT 0,
			status          text NOT NULL,
			variants        jsonb NOT NULL DEFAULT '[]'::jsonb,
			created_at      timestamptz NOT NULL,
			updated_at      timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stock_history (
			id             text PRIMARY KEY,
			product_id     text NOT NULL,
			variant_name   text NOT NULL DEFAULT '',
			previous_stock integer NOT NULL,
			new_stock      integer NOT NULL,
			change         integer NOT NULL,
			type           text NOT NULL,
			notes          text NOT NULL DEFAULT '',
			created_at     timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS stock_history_product_idx ON stock_history (product_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id             text PRIMARY KEY,
			customer       text NOT NULL DEFAULT '',
			date           timestamptz NOT NULL,
			items          jsonb NOT NULL,
			subtotal_cents bigint NOT NULL,
			tax_cents      bigint NOT NULL,
			total_cents    bigint NOT NULL,
			profit_cents   bigint NOT NULL,
			payment_method text NOT NULL,
			notes          text NOT NULL DEFAULT '',
			status         text NOT NULL,
			stock_applied  boolean NOT NULL DEFAULT false,
			created_at     timestamptz NOT NULL,
			updated_at     timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id         text PRIMARY KEY,
			title      text NOT NULL,
			message    text NOT NULL,
			type       text NOT NULL,
			read       boolean NOT NULL DEFAULT false,
			product_id text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username   text PRIMARY KEY,
			password   text NOT NULL,
			role       text NOT NULL,
			active     boolean NOT NULL DEFAULT true,
			created_at timestamptz NOT NULL
		)`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

const productColumns = `id, name, category, sku, price_cents, cost_cents, stock, min_stock_level, status, variants, created_at, updated_at`

func scanProduct(row interface {
	Scan(dest ...any) error
}) (*domain.Product, error) {
	var p domain.Product
	var variantsRaw []byte
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.SKU, &p.PriceCents, &p.CostCents, &p.Stock, &p.MinStockLevel, &p.Status, &variantsRaw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(variantsRaw) > 0 {
		if err := json.Unmarshal(variantsRaw, &p.Variants); err != nil {
			return nil, err
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1
	`, sku)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SKU == "" || product.PriceCents < 1 || product.MinStockLevel < 0 {
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

	variants, err := marshalVariants(product.Variants)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.Name, product.Category, product.SKU, product.PriceCents, product.CostCents, product.Stock, product.MinStockLevel, product.Status, variants, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SKU == "" || product.PriceCents < 1 || product.MinStockLevel < 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Stock and variants are owned by ConditionalUpdateStock; read the
	// stored values under lock and carry them through.
	var stock int
	err = tx.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1 FOR UPDATE
	`, product.ID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	status := domain.StatusFor(stock, product.MinStockLevel)
	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, sku = $4, price_cents = $5, cost_cents = $6,
			min_stock_level = $7, status = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.SKU, product.PriceCents, product.CostCents, product.MinStockLevel, status)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) ConditionalUpdateStock(ctx context.Context, id string, variantName string, expectedStock int, newStock int) (int, int, error) {
	if newStock < 0 {
		return 0, 0, store.ErrValidation
	}
	if variantName == "" {
		return s.casProductStock(ctx, id, expectedStock, newStock)
	}
	return s.casVariantStock(ctx, id, variantName, expectedStock, newStock)
}

func (s *Store) casProductStock(ctx context.Context, id string, expectedStock int, newStock int) (int, int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = $3,
			status = CASE
				WHEN $3 <= 0 THEN 'out_of_stock'
				WHEN $3 <= min_stock_level THEN 'low_stock'
				ELSE 'in_stock'
			END,
			updated_at = now()
		WHERE id = $1 AND stock = $2 AND jsonb_array_length(variants) = 0
	`, id, expectedStock, newStock)
	if err != nil {
		return 0, 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	if rows == 1 {
		// The matched row held exactly expectedStock, so it doubles as
		// the pre-write total.
		return expectedStock, newStock, nil
	}

	// Nothing matched; work out which contract was broken.
	var variantCount int
	err = s.db.QueryRowContext(ctx, `
		SELECT jsonb_array_length(variants) FROM products WHERE id = $1
	`, id).Scan(&variantCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, store.ErrProductNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	if variantCount > 0 {
		return 0, 0, store.ErrValidation
	}
	return 0, 0, store.ErrConcurrentModification
}

func (s *Store) casVariantStock(ctx context.Context, id string, variantName string, expectedStock int, newStock int) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var variantsRaw []byte
	var previousTotal int
	err = tx.QueryRowContext(ctx, `
		SELECT variants, stock FROM products WHERE id = $1 FOR UPDATE
	`, id).Scan(&variantsRaw, &previousTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, store.ErrProductNotFound
	}
	if err != nil {
		return 0, 0, err
	}

	var variants []domain.Variant
	if len(variantsRaw) > 0 {
		if err := json.Unmarshal(variantsRaw, &variants); err != nil {
			return 0, 0, err
		}
	}

	idx := -1
	for i := range variants {
		if variants[i].Name == variantName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, 0, store.ErrVariantNotFound
	}
	if variants[idx].Stock != expectedStock {
		return 0, 0, store.ErrConcurrentModification
	}
	variants[idx].Stock = newStock

	total := 0
	for _, v := range variants {
		total += v.Stock
	}

	payload, err := json.Marshal(variants)
	if err != nil {
		return 0, 0, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET variants = $2, stock = $3,
			status = CASE
				WHEN $3 <= 0 THEN 'out_of_stock'
				WHEN $3 <= min_stock_level THEN 'low_stock'
				ELSE 'in_stock'
			END,
			updated_at = now()
		WHERE id = $1
	`, id, payload, total)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return 0, 0, store.ErrConcurrentModification
		}
		return 0, 0, err
	}
	return previousTotal, total, nil
}

func (s *Store) AppendStockHistory(ctx context.Context, entry domain.StockLedgerEntry) error {
	if entry.ProductID == "" || !entry.Type.Valid() {
		return store.ErrValidation
	}
	if entry.NewStock != entry.PreviousStock+entry.Change {
		return store.ErrValidation
	}
	if entry.ID == "" {
		entry.ID = xid.New("stk")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_history (id, product_id, variant_name, previous_stock, new_stock, change, type, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ProductID, entry.VariantName, entry.PreviousStock, entry.NewStock, entry.Change, entry.Type, entry.Notes, entry.CreatedAt)
	return err
}

func (s *Store) ListStockHistory(ctx context.Context, productID string, limit int) ([]domain.StockLedgerEntry, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, variant_name, previous_stock, new_stock, change, type, notes, created_at
		FROM stock_history
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.StockLedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.StockLedgerEntry
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.VariantName, &entry.PreviousStock, &entry.NewStock, &entry.Change, &entry.Type, &entry.Notes, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

const saleColumns = `id, customer, date, items, subtotal_cents, tax_cents, total_cents, profit_cents, payment_method, notes, status, stock_applied, created_at, updated_at`

func scanSale(row interface {
	Scan(dest ...any) error
}) (*domain.Sale, error) {
	var sale domain.Sale
	var itemsRaw []byte
	err := row.Scan(&sale.ID, &sale.Customer, &sale.Date, &itemsRaw, &sale.SubtotalCents, &sale.TaxCents, &sale.TotalCents, &sale.ProfitCents, &sale.PaymentMethod, &sale.Notes, &sale.Status, &sale.StockApplied, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsRaw, &sale.Items); err != nil {
		return nil, err
	}
	sale.Date = sale.Date.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

func (s *Store) SaveSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || !sale.Status.Valid() {
		return nil, store.ErrValidation
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt

	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.Customer, sale.Date, items, sale.SubtotalCents, sale.TaxCents, sale.TotalCents, sale.ProfitCents, sale.PaymentMethod, sale.Notes, sale.Status, sale.StockApplied, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	saved := sale
	return &saved, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) UpdateSaleRecord(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if !sale.Status.Valid() {
		return nil, store.ErrValidation
	}

	// Items are immutable after creation, so the items column is left alone.
	result, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET customer = $2, date = $3, subtotal_cents = $4, tax_cents = $5, total_cents = $6,
			profit_cents = $7, payment_method = $8, notes = $9, status = $10,
			stock_applied = $11, updated_at = now()
		WHERE id = $1
	`, sale.ID, sale.Customer, sale.Date, sale.SubtotalCents, sale.TaxCents, sale.TotalCents, sale.ProfitCents, sale.PaymentMethod, sale.Notes, sale.Status, sale.StockApplied)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, store.ErrSaleNotFound
	}
	return s.GetSale(ctx, sale.ID)
}

func (s *Store) ListSales(ctx context.Context, status domain.SaleStatus, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) AppendNotification(ctx context.Context, entry domain.Notification) error {
	if entry.Title == "" || entry.Type == "" {
		return store.ErrValidation
	}
	if entry.ID == "" {
		entry.ID = xid.New("ntf")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, title, message, type, read, product_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Title, entry.Message, entry.Type, entry.Read, entry.ProductID, entry.CreatedAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, message, type, read, product_id, created_at
		FROM notifications
		WHERE ($1 = false OR read = false)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var entry domain.Notification
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Message, &entry.Type, &entry.Read, &entry.ProductID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		notifications = append(notifications, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = true WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = true WHERE read = false
	`)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "clerk"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrValidation
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func marshalVariants(variants []domain.Variant) ([]byte, error) {
	if len(variants) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(variants)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
