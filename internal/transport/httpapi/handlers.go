package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/jsonstream"
)

const (
	// StreamStatusTrailer выставляется в "complete" только после полной выгрузки.
	StreamStatusTrailer = "X-Stream-Status"

	maxRequestBody = 1 << 20
)

// OrderService — операции сервиса, которые использует HTTP-слой.
type OrderService interface {
	Today() domain.Date
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	AddOrder(ctx context.Context, order domain.Order) (string, error)
	GetAverageOrders(ctx context.Context, from, to domain.Date) (float64, error)
	ExportRange(ctx context.Context, w io.Writer, from, to domain.Date) (int, error)
}

type handler struct {
	svc           OrderService
	logger        *log.Entry
	streamTimeout time.Duration
}

func (h *handler) hello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Hello world")
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var enc jx.Encoder
	jsonstream.EncodeOrder(&enc, order)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(enc.Bytes())
}

type addOrderRequest struct {
	Date       domain.Date `json:"date"`
	Comment    string      `json:"comment"`
	Deviations []struct {
		Description string `json:"description"`
	} `json:"deviations"`
}

func (h *handler) addOrder(w http.ResponseWriter, r *http.Request) {
	var req addOrderRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidOrder, err))
		return
	}

	order := domain.Order{Date: req.Date, Comment: req.Comment}
	for _, d := range req.Deviations {
		order.Deviations = append(order.Deviations, domain.Deviation{Description: d.Description})
	}

	id, err := h.svc.AddOrder(r.Context(), order)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/order/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type averageResponse struct {
	From    domain.Date `json:"from"`
	To      domain.Date `json:"to"`
	Average float64     `json:"average"`
}

func (h *handler) averageOrders(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	avg, err := h.svc.GetAverageOrders(r.Context(), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, averageResponse{From: from, To: to, Average: avg})
}

// listOrders отдаёт JSON-массив заказов диапазона потоком, без Content-Length.
//
// Если выгрузка упала до первого байта, клиент получает обычную ошибку.
// Если часть массива уже ушла, ответ обрывается через http.ErrAbortHandler,
// и клиент видит ошибку транспорта вместо корректного, но неполного JSON.
func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if h.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.streamTimeout)
		defer cancel()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Trailer", StreamStatusTrailer)

	sink := &countingWriter{w: w}
	n, err := h.svc.ExportRange(ctx, sink, from, to)
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("orders.streamed", n))

	if err != nil {
		if sink.written == 0 {
			w.Header().Del("Trailer")
			h.writeError(w, r, err)
			return
		}
		h.logger.WithError(err).WithFields(log.Fields{
			"request_id": RequestIDFromContext(r.Context()),
			"written":    n,
		}).Warn("aborting partially written order stream")
		panic(http.ErrAbortHandler)
	}

	w.Header().Set(StreamStatusTrailer, "complete")
}

// parseRange читает from/to; отсутствующая граница — сегодняшний день по UTC.
func (h *handler) parseRange(r *http.Request) (domain.Date, domain.Date, error) {
	today := h.svc.Today()
	from, err := parseDateParam(r, "from", today)
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	to, err := parseDateParam(r, "to", today)
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	return from, to, nil
}

func parseDateParam(r *http.Request, name string, fallback domain.Date) (domain.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return domain.Date{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidRange, name, err)
	}
	return d, nil
}

type countingWriter struct {
	w       http.ResponseWriter
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	return n, err
}

func (c *countingWriter) Flush() {
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, domain.ErrInvalidRange), errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "order store unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		}).Error("request failed")
	}
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
