package orders

import (
	"net/http"
	"strconv"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type tradeRequest struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

type closeRequest struct {
	OrderID int64 `json:"order_id"`
}

func (h *Handler) Trade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: string(apperr.KindInvalidRequest)})
		return
	}
	res, err := h.svc.CreateTrade(r.Context(), req.Type, req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: string(apperr.KindInvalidRequest)})
		return
	}
	res, err := h.svc.CloseTrade(r.Context(), req.OrderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// History serves the snapshot bytes as stored, so repeated reads within
// the cache TTL return identical bodies.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetOrderHistory(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if snap.FromCache {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	httputil.WriteRaw(w, http.StatusOK, snap.Raw)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, apperr.InvalidRequest("invalid order id"))
		return
	}
	o, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	price, err := h.svc.GetPrice(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": price})
}
