// Package catalog loads a product catalog from YAML and writes it to the
// product store. Seeding is an upsert, so it can run on every start.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/foldclub/internal/store"
)

type Translation struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type Product struct {
	ID           string                 `yaml:"id"`
	Slug         string                 `yaml:"slug"`
	Price        int64                  `yaml:"price"` // minor units
	Currency     string                 `yaml:"currency"`
	Translations map[string]Translation `yaml:"translations"`
}

type Catalog struct {
	Currency string    `yaml:"currency"`
	Products []Product `yaml:"products"`
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, p := range c.Products {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("product %d: id is required", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("product %s: duplicate id", p.ID))
		}
		seen[p.ID] = true
		if p.Slug == "" {
			errs = append(errs, fmt.Errorf("product %s: slug is required", p.ID))
		}
		if p.Price <= 0 {
			errs = append(errs, fmt.Errorf("product %s: price must be positive", p.ID))
		}
		for locale, t := range p.Translations {
			if !slices.Contains(store.Locales, locale) {
				errs = append(errs, fmt.Errorf("product %s: unsupported locale %q", p.ID, locale))
			}
			if t.Slug == "" || t.Name == "" {
				errs = append(errs, fmt.Errorf("product %s/%s: slug and name are required", p.ID, locale))
			}
		}
	}
	return errors.Join(errs...)
}

// Seed upserts every product and its translations. It returns the number of
// products written.
func Seed(ctx context.Context, products *store.ProductStore, c *Catalog) (int, error) {
	for _, p := range c.Products {
		currency := p.Currency
		if currency == "" {
			currency = c.Currency
		}
		if err := products.Save(ctx, p.ID, p.Slug, p.Price, currency); err != nil {
			return 0, fmt.Errorf("seed %s: %w", p.ID, err)
		}
		for locale, t := range p.Translations {
			if err := products.SaveTranslation(ctx, p.ID, locale, t.Slug, t.Name, t.Description); err != nil {
				return 0, fmt.Errorf("seed %s/%s: %w", p.ID, locale, err)
			}
		}
	}
	return len(c.Products), nil
}
