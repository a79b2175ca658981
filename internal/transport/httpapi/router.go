// Package httpapi — HTTP-граница сервиса заказов.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options настраивает роутер.
type Options struct {
	// StreamTimeout ограничивает время жизни scope одной выгрузки. 0 — без ограничения.
	StreamTimeout time.Duration
	// ServiceName — имя операции для серверных span.
	ServiceName string
}

// NewRouter собирает маршруты и middleware.
// /order/list и /order/average регистрируются раньше /order/{id}.
func NewRouter(svc OrderService, opts Options, logger *log.Entry) http.Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "orders-api"
	}

	h := &handler{svc: svc, logger: logger, streamTimeout: opts.StreamTimeout}

	r := mux.NewRouter()
	r.HandleFunc("/helloworld", h.hello).Methods(http.MethodGet)
	r.HandleFunc("/order/list", h.listOrders).Methods(http.MethodGet)
	r.HandleFunc("/order/average", h.averageOrders).Methods(http.MethodGet)
	r.HandleFunc("/order/{id}", h.getOrder).Methods(http.MethodGet)
	r.HandleFunc("/order", h.addOrder).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	handler := Chain(r,
		RequestID(),
		AccessLog(logger),
		Gzip(),
		Recovery(logger),
	)
	return otelhttp.NewHandler(handler, opts.ServiceName)
}
