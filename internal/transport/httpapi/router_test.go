package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/metrics"
	"github.com/vladislavdragonenkov/orderstream/internal/service/orders"
	"github.com/vladislavdragonenkov/orderstream/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderstream/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/orderstream/internal/txscope"
)

var today = time.Date(2019, 12, 15, 9, 0, 0, 0, time.UTC)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "http-api-test")
}

func newTestRouter(t *testing.T) (http.Handler, *orders.Service, *memory.OrderStore) {
	t.Helper()

	store := memory.NewOrderStore()
	m := metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())
	svc := orders.NewService(store, txscope.NewRunner(store, m, nil), nil, nil,
		orders.WithClock(func() time.Time { return today }),
		orders.WithMetrics(m),
	)
	return httpapi.NewRouter(svc, httpapi.Options{StreamTimeout: time.Minute}, testLogger()), svc, store
}

func serve(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HelloWorld(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/helloworld", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_AddAndGetOrder(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodPost, "/order", strings.NewReader(`{"date":"2019-12-01","comment":"first","deviations":[{"description":"late"}]}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "/order/"+created.ID, rec.Header().Get("Location"))

	rec = serve(h, http.MethodGet, "/order/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		ID         string `json:"id"`
		Date       string `json:"date"`
		Comment    string `json:"comment"`
		Deviations []struct {
			Description string `json:"description"`
		} `json:"deviations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "2019-12-01", got.Date)
	assert.Equal(t, "first", got.Comment)
	require.Len(t, got.Deviations, 1)
	assert.Equal(t, "late", got.Deviations[0].Description)
}

func TestRouter_AddOrderIgnoresClientFields(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodPost, "/order", strings.NewReader(`{"id":"client","date":"2019-12-01","extra":true}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEqual(t, "client", created.ID)
}

func TestRouter_AddOrderInvalid(t *testing.T) {
	h, _, _ := newTestRouter(t)

	cases := map[string]string{
		"malformed json": `{"date":`,
		"missing date":   `{"comment":"x"}`,
		"bad date":       `{"date":"2019-13-45"}`,
		"wrong type":     `{"date":"2019-12-01","comment":5}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, "/order", strings.NewReader(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var errBody struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
			assert.Equal(t, http.StatusBadRequest, errBody.Code)
			assert.NotEmpty(t, errBody.Message)
		})
	}
}

func TestRouter_GetOrderNotFound(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/order/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":404,"message":"order not found"}`, rec.Body.String())
}

func TestRouter_ListOrdersStreamsRange(t *testing.T) {
	h, svc, store := newTestRouter(t)
	ctx := context.Background()

	for _, o := range []domain.Order{
		{Date: domain.NewDate(2019, 12, 2), Comment: "second"},
		{Date: domain.NewDate(2019, 12, 1), Comment: "first"},
		{Date: domain.NewDate(2019, 11, 30), Comment: "outside"},
	} {
		_, err := svc.AddOrder(ctx, o)
		require.NoError(t, err)
	}

	rec := serve(h, http.MethodGet, "/order/list?from=2019-12-01&to=2019-12-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Equal(t, "complete", rec.Result().Trailer.Get(httpapi.StreamStatusTrailer))

	var got []struct {
		Comment string `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Comment)
	assert.Equal(t, "second", got[1].Comment)
	assert.Zero(t, store.OpenScopes())
}

func TestRouter_ListOrdersDefaultsToToday(t *testing.T) {
	h, svc, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := svc.AddOrder(ctx, domain.Order{Date: domain.DateOf(today), Comment: "today"})
	require.NoError(t, err)
	_, err = svc.AddOrder(ctx, domain.Order{Date: domain.DateOf(today).AddDays(-1), Comment: "yesterday"})
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, "/order/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []struct {
		Comment string `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "today", got[0].Comment)
}

func TestRouter_ListOrdersEmptyAndReversed(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/order/list?from=2019-12-31&to=2019-12-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

func TestRouter_ListOrdersBadDate(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/order/list?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_AverageOrders(t *testing.T) {
	h, svc, _ := newTestRouter(t)

	_, err := svc.AddOrder(context.Background(), domain.Order{Date: domain.NewDate(2018, 1, 1)})
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, "/order/average?from=2018-01-01&to=2018-01-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"from":"2018-01-01","to":"2018-01-02","average":0.5}`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/order/average?from=2018-01-02&to=2018-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodDelete, "/order/list", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type scriptedService struct {
	exportErr   error
	writeBefore string
}

func (s *scriptedService) Today() domain.Date { return domain.DateOf(today) }

func (s *scriptedService) GetOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrStoreUnavailable
}

func (s *scriptedService) AddOrder(context.Context, domain.Order) (string, error) {
	panic("unexpected failure in store driver")
}

func (s *scriptedService) GetAverageOrders(context.Context, domain.Date, domain.Date) (float64, error) {
	return 0, nil
}

func (s *scriptedService) ExportRange(_ context.Context, w io.Writer, _, _ domain.Date) (int, error) {
	if s.writeBefore != "" {
		if _, err := io.WriteString(w, s.writeBefore); err != nil {
			return 0, err
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	return 1, s.exportErr
}

func TestRouter_ListOrdersFailureBeforeFirstByte(t *testing.T) {
	svc := &scriptedService{exportErr: fmt.Errorf("open scope: %w", domain.ErrStoreUnavailable)}
	h := httpapi.NewRouter(svc, httpapi.Options{}, testLogger())

	rec := serve(h, http.MethodGet, "/order/list", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Result().Trailer.Get(httpapi.StreamStatusTrailer))
}

func TestRouter_ListOrdersFailureAfterBytesAbortsResponse(t *testing.T) {
	svc := &scriptedService{
		writeBefore: `[{"id":"a","date":"2019-12-15","comment":"","deviations":[]}`,
		exportErr:   fmt.Errorf("%w: broken pipe", domain.ErrSerialization),
	}
	server := httptest.NewServer(httpapi.NewRouter(svc, httpapi.Options{}, testLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/order/list")
	if err == nil {
		defer resp.Body.Close()
		var body bytes.Buffer
		_, err = io.Copy(&body, resp.Body)
		assert.Empty(t, resp.Trailer.Get(httpapi.StreamStatusTrailer))
	}
	assert.Error(t, err, "client must observe a transport error on a partially written stream")
}

func TestRouter_GetOrderStoreUnavailable(t *testing.T) {
	h := httpapi.NewRouter(&scriptedService{}, httpapi.Options{}, testLogger())

	rec := serve(h, http.MethodGet, "/order/some-id", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	h := httpapi.NewRouter(&scriptedService{}, httpapi.Options{}, testLogger())

	rec := serve(h, http.MethodPost, "/order", strings.NewReader(`{"date":"2019-12-01"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
}

func TestRouter_RequestIDPropagation(t *testing.T) {
	h, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/helloworld", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
