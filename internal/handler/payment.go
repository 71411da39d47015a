package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"
)

const signatureHeader = "Stripe-Signature"

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	evt, err := webhook.ConstructEventWithOptions(payload, r.Header.Get(signatureHeader), h.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		lg.Warn("Rejected webhook with invalid signature", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_signature", "invalid webhook signature")
		return
	}

	if evt.Type != stripe.EventTypeCheckoutSessionCompleted {
		lg.Debug("Ignoring webhook event", zap.String("type", string(evt.Type)))
		w.WriteHeader(http.StatusOK)
		return
	}

	var session stripe.CheckoutSession
	if evt.Data == nil || json.Unmarshal(evt.Data.Raw, &session) != nil || session.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "event carries no checkout session")
		return
	}

	if _, err := h.checkouts.HandleCheckoutCompleted(ctx, session.ID); err != nil {
		respondError(ctx, w, err)
		return
	}
	lg.Debug("Webhook event handled", zap.String("event_id", evt.ID), zap.String("session_id", session.ID))
	w.WriteHeader(http.StatusOK)
}
