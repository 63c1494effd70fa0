package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/foldclub/internal/model"
	"github.com/dukerupert/foldclub/internal/store"
	fcstripe "github.com/dukerupert/foldclub/internal/stripe"
	"github.com/dukerupert/foldclub/internal/tracking"
)

type WebhookHandler struct {
	stripeClient *fcstripe.Client
	orders       *store.OrderStore
	sessions     *store.SessionStore
	ledger       *tracking.Ledger
	tracker      *tracking.Tracker
	currency     string
	successURL   string
	logger       *slog.Logger
}

func NewWebhookHandler(
	sc *fcstripe.Client,
	orders *store.OrderStore,
	ss *store.SessionStore,
	l *tracking.Ledger,
	t *tracking.Tracker,
	currency, baseURL string,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		stripeClient: sc,
		orders:       orders,
		sessions:     ss,
		ledger:       l,
		tracker:      t,
		currency:     currency,
		successURL:   baseURL + "/checkout/success",
		logger:       logger,
	}
}

// HandleStripeWebhook handles POST /webhooks/stripe. Storage failures answer
// 500 so Stripe retries; order creation is idempotent on the checkout ID.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, fcstripe.ErrNotConfigured) {
		http.Error(w, "webhooks not configured", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Warn("webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if err := h.handleCheckoutCompleted(r.Context(), event); err != nil {
			h.logger.Error("checkout completed", "event", event.ID, "error", err)
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
	default:
		h.logger.Debug("webhook ignored", "type", string(event.Type))
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	co, err := fcstripe.ParseCheckout(event)
	if err != nil {
		// Retrying will not fix a malformed payload.
		h.logger.Warn("unusable checkout session", "event", event.ID, "error", err)
		return nil
	}
	for _, w := range co.Warnings {
		h.logger.Warn("checkout metadata", "event", event.ID, "stripe_session", co.SessionID, "warning", w)
	}

	now := time.Now()
	eventID := co.EventID
	if eventID == "" {
		eventID = tracking.EventIDAt(tracking.Purchase, co.SessionID, co.TrackingSession, now)
	}
	currency := co.Currency
	if currency == "" {
		currency = h.currency
	}

	order := &model.Order{
		StripeSessionID: co.SessionID,
		CustomerEmail:   co.Email,
		AmountTotal:     co.AmountTotal,
		Currency:        currency,
		EventID:         &eventID,
	}
	if co.TrackingSession != "" {
		order.TrackingSessionID = &co.TrackingSession
		sess, err := h.sessions.GetByToken(ctx, co.TrackingSession)
		if err != nil {
			return fmt.Errorf("load attribution session: %w", err)
		}
		if sess != nil {
			order.FBCLID = sess.FBCLID
			order.UTMSource = sess.UTMSource
			order.UTMMedium = sess.UTMMedium
			order.UTMCampaign = sess.UTMCampaign
		}
	}

	created, err := h.orders.Create(ctx, order)
	if err != nil {
		return err
	}
	if !created {
		h.logger.Info("duplicate checkout webhook", "stripe_session", co.SessionID)
		return nil
	}
	h.logger.Info("order recorded", "stripe_session", co.SessionID, "amount", co.AmountTotal, "currency", currency)
	if co.AmountTotal == 0 {
		h.logger.Info("dispatch skipped", "event", string(tracking.Purchase), "event_id", eventID, "reason", "zero amount")
		return nil
	}

	sess, err := h.ledger.MarketingSession(ctx, co.TrackingSession)
	if err != nil {
		h.logger.Error("consent gate", "event", string(tracking.Purchase), "event_id", eventID, "error", err)
		return nil
	}
	if sess == nil {
		h.logger.Debug("dispatch skipped", "event", string(tracking.Purchase), "event_id", eventID, "reason", "no marketing consent")
		return nil
	}

	user := tracking.UserDataFromSession(sess)
	user.Email = co.Email
	h.tracker.DispatchAsync(tracking.Purchase, tracking.Event{
		ID:         eventID,
		ProductIDs: co.ProductIDs,
		Value:      co.AmountTotal,
		Currency:   currency,
		NumItems:   co.NumItems,
		SourceURL:  h.successURL,
		User:       user,
		Time:       now,
	})
	return nil
}
