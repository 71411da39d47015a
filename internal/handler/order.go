package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/order"
	"github.com/xenking/order-service/internal/domain/pricing"
)

// IdempotencyKeyHeader carries the client-chosen submission key.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

type createOrderRequest struct {
	Cart        []pricing.CartItem `json:"cart"`
	CouponCode  string             `json:"couponCode"`
	TenantID    string             `json:"tenantId"`
	CustomerID  string             `json:"customerId"`
	PaymentMode order.PaymentMode  `json:"paymentMode"`
	Address     string             `json:"address"`
	Comment     string             `json:"comment"`
}

func (r *createOrderRequest) draft() order.Draft {
	return order.Draft{
		Cart:        r.Cart,
		CouponCode:  strings.TrimSpace(r.CouponCode),
		TenantID:    r.TenantID,
		CustomerID:  r.CustomerID,
		PaymentMode: r.PaymentMode,
		Address:     r.Address,
		Comment:     r.Comment,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Idempotency-Key header is required")
		return
	}

	// An unreadable body still replays a used key; the service rejects the
	// empty draft only when the key is new.
	var body createOrderRequest
	decodeErr := decodeJSON(w, r, &body)
	if decodeErr != nil {
		body = createOrderRequest{}
	}

	res, err := h.orders.Create(ctx, key, body.draft())
	if err != nil {
		if decodeErr != nil && errors.Is(err, order.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid_request", decodeErr.Error())
			return
		}
		respondError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeCreateResult(w, status, res.PaymentURL)
}

// writeCreateResult writes {"paymentUrl": string|null}.
func writeCreateResult(w http.ResponseWriter, status int, paymentURL *string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("paymentUrl")
	if paymentURL == nil {
		e.Null()
	} else {
		e.Str(*paymentURL)
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, _ := access.RequesterFromContext(ctx)

	projection, err := order.ParseProjection(r.URL.Query().Get("fields"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	doc, err := h.reader.Get(ctx, req, chi.URLParam(r, "orderId"), projection)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, _ := access.RequesterFromContext(ctx)

	orders, err := h.reader.ListMine(ctx, req)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}
