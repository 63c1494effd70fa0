package handler

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/dukerupert/foldclub/internal/model"
	"github.com/dukerupert/foldclub/internal/store"
)

type ProductHandler struct {
	products *store.ProductStore
	logger   *slog.Logger
}

func NewProductHandler(ps *store.ProductStore, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{products: ps, logger: logger}
}

func localeParam(r *http.Request) (string, bool) {
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		return store.Locales[0], true
	}
	return locale, slices.Contains(store.Locales, locale)
}

// List handles GET /api/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	locale, ok := localeParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported locale")
		return
	}

	products, err := h.products.List(r.Context(), locale)
	if err != nil {
		h.logger.Error("list products", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// Get handles GET /api/products/{slug}. A slug from another locale answers
// with a redirect hint to the localized slug.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	locale, ok := localeParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported locale")
		return
	}
	slug := r.PathValue("slug")

	p, err := h.products.GetBySlug(r.Context(), slug, locale)
	if err != nil {
		h.logger.Error("get product", "slug", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if p != nil {
		writeJSON(w, http.StatusOK, p)
		return
	}

	p, err = h.products.GetBySlugAnyLocale(r.Context(), slug, locale)
	if err != nil {
		h.logger.Error("get product any locale", "slug", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect": p.LocalizedSlug})
}
