package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

var _ gateway.RecordStore = (*DB)(nil)

// maxInArgs keeps IN (...) lists below SQLite's bound-parameter limit.
const maxInArgs = 500

// FetchAllIDs returns the set of stored product IDs.
func (db *DB) FetchAllIDs(ctx context.Context) (map[int64]struct{}, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM products`)
	if err != nil {
		return nil, fmt.Errorf("failed to query product ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product ids: %w", err)
	}

	return ids, nil
}

// FetchByIDs returns the stored products whose IDs are in ids.
func (db *DB) FetchByIDs(ctx context.Context, ids []int64) ([]*schema.Product, error) {
	var products []*schema.Product

	for start := 0; start < len(ids); start += maxInArgs {
		end := min(start+maxInArgs, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		query := `SELECT id, name, brand, image_path FROM products WHERE id IN (` + placeholders + `)`
		batch, err := db.queryProducts(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		products = append(products, batch...)
	}

	return products, nil
}

// FetchByBrand returns the products of a brand ordered by ID.
func (db *DB) FetchByBrand(ctx context.Context, brand string) ([]*schema.Product, error) {
	query := `SELECT id, name, brand, image_path FROM products WHERE brand = ? ORDER BY id ASC`
	return db.queryProducts(ctx, query, brand)
}

// GetProductByID retrieves a single product.
// Returns gateway.ErrNotFound if no product has that ID.
func (db *DB) GetProductByID(ctx context.Context, id int64) (*schema.Product, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := db.rebind(`SELECT id, name, brand, image_path FROM products WHERE id = ?`)

	var p schema.Product
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Brand, &p.ImagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, gateway.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return &p, nil
}

// UpsertProduct inserts or updates a product.
func (db *DB) UpsertProduct(ctx context.Context, p *schema.Product) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid product %d: %w", p.ID, err)
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := db.rebind(`
	INSERT INTO products (id, name, brand, image_path, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		brand = excluded.brand,
		image_path = excluded.image_path,
		updated_at = excluded.updated_at
	`)

	_, err := db.conn.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Brand,
		p.ImagePath,
		db.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %d: %w", p.ID, err)
	}
	return nil
}

// DeleteProduct removes a product.
// Returns nil if the product doesn't exist (idempotent).
func (db *DB) DeleteProduct(ctx context.Context, id int64) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM products WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete product %d: %w", id, err)
	}
	return nil
}

// CountProducts returns the number of stored products.
func (db *DB) CountProducts(ctx context.Context) (int, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// BrandCount pairs a brand with its number of products.
type BrandCount struct {
	Brand    string `json:"brand" yaml:"brand"`
	Products int    `json:"products" yaml:"products"`
}

// ListBrands returns every stored brand with its product count, ordered by brand.
func (db *DB) ListBrands(ctx context.Context) ([]BrandCount, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT brand, COUNT(*) FROM products GROUP BY brand ORDER BY brand ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	defer rows.Close()

	var brands []BrandCount
	for rows.Next() {
		var bc BrandCount
		if err := rows.Scan(&bc.Brand, &bc.Products); err != nil {
			return nil, fmt.Errorf("failed to scan brand: %w", err)
		}
		brands = append(brands, bc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating brands: %w", err)
	}
	return brands, nil
}

// queryProducts runs a product SELECT under the store timeout.
func (db *DB) queryProducts(ctx context.Context, query string, args ...any) ([]*schema.Product, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// scanProducts is a helper function to scan multiple products from query results.
func scanProducts(rows *sql.Rows) ([]*schema.Product, error) {
	var products []*schema.Product

	for rows.Next() {
		var p schema.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.ImagePath); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}
