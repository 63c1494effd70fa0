package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/foldclub/internal/model"
	"github.com/dukerupert/foldclub/internal/store"
	"github.com/dukerupert/foldclub/internal/tracking"
)

const consentCookieMaxAge = 365 * 24 * 60 * 60

type TrackingHandler struct {
	capturer *tracking.Capturer
	ledger   *tracking.Ledger
	tracker  *tracking.Tracker
	products *store.ProductStore
	currency string
	logger   *slog.Logger
}

func NewTrackingHandler(c *tracking.Capturer, l *tracking.Ledger, t *tracking.Tracker, ps *store.ProductStore, currency string, logger *slog.Logger) *TrackingHandler {
	return &TrackingHandler{
		capturer: c,
		ledger:   l,
		tracker:  t,
		products: ps,
		currency: currency,
		logger:   logger,
	}
}

type bufferedParams struct {
	FBCLID      *string `json:"fbclid"`
	GCLID       *string `json:"gclid"`
	TTCLID      *string `json:"ttclid"`
	UTMSource   *string `json:"utmSource"`
	UTMMedium   *string `json:"utmMedium"`
	UTMCampaign *string `json:"utmCampaign"`
	UTMContent  *string `json:"utmContent"`
	UTMTerm     *string `json:"utmTerm"`
	LandingPage *string `json:"landingPage"`
}

func (p bufferedParams) attribution() model.AttributionParams {
	return model.AttributionParams{
		FBCLID:      optional(p.FBCLID),
		GCLID:       optional(p.GCLID),
		TTCLID:      optional(p.TTCLID),
		UTMSource:   optional(p.UTMSource),
		UTMMedium:   optional(p.UTMMedium),
		UTMCampaign: optional(p.UTMCampaign),
		UTMContent:  optional(p.UTMContent),
		UTMTerm:     optional(p.UTMTerm),
	}
}

type sessionRequest struct {
	Consent *model.ConsentChoice `json:"consent" validate:"required"`
	Params  bufferedParams       `json:"params"`
}

// Session handles POST /api/tracking/session. It flushes the attribution the
// browser buffered before consent together with the consent choice itself.
func (h *TrackingHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	// Body values win over the cookies; the cookies fill fbc/fbp.
	params := tracking.MergeParams(req.Params.attribution(), tracking.ExtractParams(r))

	sess, err := h.capturer.Resolve(w, r, params, optional(req.Params.LandingPage))
	if err != nil {
		h.logger.Error("resolve session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"recorded": false})
		return
	}

	// Not atomic with Resolve: on failure the session and its cookie stay and
	// the client's retry records consent on the same session.
	rec, err := h.ledger.RecordConsent(r.Context(), sess.SessionID, *req.Consent)
	if err != nil {
		h.logger.Error("record consent", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"recorded": false})
		return
	}

	setConsentCookie(w, r, rec.Choice())
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func setConsentCookie(w http.ResponseWriter, r *http.Request, choice model.ConsentChoice) {
	b, _ := json.Marshal(choice)
	http.SetCookie(w, &http.Cookie{
		Name:     tracking.ConsentCookie,
		Value:    url.QueryEscape(string(b)),
		Path:     "/",
		MaxAge:   consentCookieMaxAge,
		Secure:   tracking.IsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

type consentResponse struct {
	model.ConsentChoice
	RecordedAt time.Time `json:"recordedAt"`
}

// Consent handles GET /api/tracking/consent.
func (h *TrackingHandler) Consent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.CurrentConsent(r.Context(), tracking.SessionToken(r))
	if err != nil {
		h.logger.Error("current consent", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load consent")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no consent recorded")
		return
	}
	writeJSON(w, http.StatusOK, consentResponse{ConsentChoice: rec.Choice(), RecordedAt: rec.CreatedAt})
}

type trackResponse struct {
	Tracked bool   `json:"tracked"`
	EventID string `json:"eventId"`
}

type productEventRequest struct {
	ProductID   string `json:"productId" validate:"required,notblank"`
	ProductName string `json:"productName"`
	Price       int64  `json:"price" validate:"min=0"` // unit price, minor units
	Quantity    int    `json:"quantity" validate:"min=0"`
	EventID     string `json:"eventId"`
	SourceURL   string `json:"sourceUrl" validate:"required,httpurl"`
}

// ViewContent handles POST /api/tracking/view-content.
func (h *TrackingHandler) ViewContent(w http.ResponseWriter, r *http.Request) {
	h.productEvent(w, r, tracking.ViewContent)
}

// AddToCart handles POST /api/tracking/add-to-cart.
func (h *TrackingHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	h.productEvent(w, r, tracking.AddToCart)
}

func (h *TrackingHandler) productEvent(w http.ResponseWriter, r *http.Request, kind tracking.EventKind) {
	var req productEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)

	qty := int64(max(req.Quantity, 1))
	ev := tracking.Event{
		ProductIDs:  []string{req.ProductID},
		ProductName: req.ProductName,
		Value:       req.Price * qty,
		NumItems:    req.Quantity,
		SourceURL:   req.SourceURL,
	}
	// The catalog is authoritative for name and price when it knows the product.
	if h.products != nil {
		p, err := h.products.GetByID(r.Context(), req.ProductID, store.Locales[0])
		if err != nil {
			h.logger.Warn("catalog lookup", "product_id", req.ProductID, "error", err)
		} else if p != nil {
			ev.ProductName = p.Name
			ev.Value = p.PriceAmount * qty
			ev.Currency = p.Currency
		}
	}

	h.dispatch(w, r, kind, req.ProductID, req.EventID, ev)
}

type checkoutRequest struct {
	ProductIDs []string `json:"productIds" validate:"min=1,dive,notblank"`
	TotalValue int64    `json:"totalValue" validate:"min=0"`
	NumItems   int      `json:"numItems" validate:"min=1"`
	EventID    string   `json:"eventId"`
	SourceURL  string   `json:"sourceUrl" validate:"required,httpurl"`
}

// normalize trims the product IDs and drops blank ones.
func (req *checkoutRequest) normalize() {
	ids := make([]string, 0, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	req.ProductIDs = ids
}

// Checkout handles POST /api/tracking/checkout.
func (h *TrackingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.normalize()
	if msg := validateRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ev := tracking.Event{
		ProductIDs: req.ProductIDs,
		Value:      req.TotalValue,
		NumItems:   req.NumItems,
		SourceURL:  req.SourceURL,
	}
	h.dispatch(w, r, tracking.InitiateCheckout, "cart", req.EventID, ev)
}

// dispatch fills the event ID and visitor identity, fires the event if the
// visitor allowed marketing, and answers. Failures past validation are
// logged only; the response is always tracked=true.
func (h *TrackingHandler) dispatch(w http.ResponseWriter, r *http.Request, kind tracking.EventKind, entity, clientEventID string, ev tracking.Event) {
	token := tracking.SessionToken(r)

	ev.ID = clientEventID
	if ev.ID == "" {
		ev.ID = tracking.GenerateEventID(kind, entity, token)
	}
	if ev.Currency == "" {
		ev.Currency = h.currency
	}

	sess, err := h.ledger.MarketingSession(r.Context(), token)
	switch {
	case err != nil:
		h.logger.Error("consent gate", "event", string(kind), "event_id", ev.ID, "error", err)
	case sess == nil:
		h.logger.Debug("dispatch skipped", "event", string(kind), "event_id", ev.ID, "reason", "no marketing consent")
	default:
		ev.User = tracking.UserDataFromSession(sess)
		h.tracker.DispatchAsync(kind, ev)
	}

	writeJSON(w, http.StatusOK, trackResponse{Tracked: true, EventID: ev.ID})
}
