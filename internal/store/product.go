package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/dukerupert/foldclub/internal/database"
	"github.com/dukerupert/foldclub/internal/model"
)

// Locales the catalog carries translations for. The first entry is canonical.
var Locales = []string{"en", "pl"}

// ProductStore reads the active catalog. Products are flattened with their
// translation for the requested locale.
type ProductStore struct {
	db *database.DB
}

func NewProductStore(db *database.DB) *ProductStore {
	return &ProductStore{db: db}
}

func (s *ProductStore) selectProducts(locale string) sq.SelectBuilder {
	return s.db.Builder().
		Select(
			"p.id", "p.slug", "t.slug", "t.locale", "t.name", "t.description",
			"p.price_amount", "p.currency",
		).
		From("products p").
		Join("product_translations t ON t.product_id = p.id").
		Where(sq.Eq{"t.locale": locale, "p.is_active": true})
}

func scanProduct(scanner interface{ Scan(...any) error }) (*model.Product, error) {
	var p model.Product
	err := scanner.Scan(&p.ID, &p.Slug, &p.LocalizedSlug, &p.Locale, &p.Name, &p.Description, &p.PriceAmount, &p.Currency)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProductStore) getOne(ctx context.Context, qb sq.SelectBuilder) (*model.Product, error) {
	query, args, err := qb.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select product: %w", err)
	}
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// List returns all active products for the locale ordered by canonical slug.
func (s *ProductStore) List(ctx context.Context, locale string) ([]model.Product, error) {
	query, args, err := s.selectProducts(locale).OrderBy("p.slug ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list products: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// GetBySlug looks a product up by its slug in the given locale.
func (s *ProductStore) GetBySlug(ctx context.Context, slug, locale string) (*model.Product, error) {
	return s.getOne(ctx, s.selectProducts(locale).Where(sq.Eq{"t.slug": slug}))
}

// GetByID returns the product translated into locale.
func (s *ProductStore) GetByID(ctx context.Context, id, locale string) (*model.Product, error) {
	return s.getOne(ctx, s.selectProducts(locale).Where(sq.Eq{"p.id": id}))
}

// GetBySlugAnyLocale finds a product by a slug from any locale and returns it
// translated into targetLocale.
func (s *ProductStore) GetBySlugAnyLocale(ctx context.Context, slug, targetLocale string) (*model.Product, error) {
	for _, locale := range Locales {
		p, err := s.GetBySlug(ctx, slug, locale)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return s.GetByID(ctx, p.ID, targetLocale)
		}
	}
	return nil, nil
}

// Save inserts a catalog product, or updates slug, price and currency if the
// ID already exists.
func (s *ProductStore) Save(ctx context.Context, id, slug string, priceAmount int64, currency string) error {
	query, args, err := s.db.Builder().
		Insert("products").
		Columns("id", "slug", "price_amount", "currency").
		Values(id, slug, priceAmount, currency).
		Suffix("ON CONFLICT (id) DO UPDATE SET slug = excluded.slug, price_amount = excluded.price_amount, " +
			"currency = excluded.currency, updated_at = CURRENT_TIMESTAMP").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert product: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// SaveTranslation sets the localized slug, name and description of a product.
func (s *ProductStore) SaveTranslation(ctx context.Context, productID, locale, slug, name, description string) error {
	query, args, err := s.db.Builder().
		Insert("product_translations").
		Columns("product_id", "locale", "slug", "name", "description").
		Values(productID, locale, slug, name, description).
		Suffix("ON CONFLICT (product_id, locale) DO UPDATE SET slug = excluded.slug, " +
			"name = excluded.name, description = excluded.description").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert translation: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert translation: %w", err)
	}
	return nil
}

// SetActive toggles whether a product is visible in the catalog.
func (s *ProductStore) SetActive(ctx context.Context, id string, active bool) error {
	query, args, err := s.db.Builder().
		Update("products").
		Set("is_active", active).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update product: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}
