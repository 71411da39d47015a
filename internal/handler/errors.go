package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/customer"
	"github.com/xenking/order-service/internal/domain/order"
	"github.com/xenking/order-service/internal/domain/payment"
	"github.com/xenking/order-service/internal/domain/pricing"
	"github.com/xenking/order-service/pkg/httpmiddleware"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, httpmiddleware.ErrorBody{Code: code, Message: msg})
}

// mapError converts a domain error to the HTTP status and error code.
func mapError(err error) (status int, code string, msg string) {
	var (
		qtyErr     *pricing.InvalidQuantityError
		missingErr *pricing.PricingDataMissingError
	)
	switch {
	case errors.Is(err, order.ErrValidation), errors.As(err, &qtyErr):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.As(err, &missingErr), errors.Is(err, pricing.ErrPricingDataMissing):
		return http.StatusUnprocessableEntity, "pricing_data_missing", err.Error()
	case errors.Is(err, access.ErrDenied):
		return http.StatusForbidden, "forbidden", "operation not permitted"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "not_found", "order not found"
	case errors.Is(err, customer.ErrNotFound):
		return http.StatusNotFound, "not_found", "customer not found"
	case errors.Is(err, payment.ErrSession):
		return http.StatusBadGateway, "payment_session_failed", "order saved but the payment session could not be created, retry with the same idempotency key"
	case errors.Is(err, payment.ErrGatewayVerification):
		return http.StatusBadGateway, "gateway_verification_failed", "payment gateway verification failed"
	default:
		return http.StatusInternalServerError, "internal", "internal server error"
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code, msg := mapError(err)
	lg := zctx.From(ctx)
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.String("code", code), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.String("code", code), zap.Error(err))
	}
	writeError(w, status, code, msg)
}
