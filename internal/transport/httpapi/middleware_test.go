package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsValidRequestID(t *testing.T) {
	cases := map[string]bool{
		"":                       false,
		"abc-123":                true,
		strings.Repeat("a", 128): true,
		strings.Repeat("a", 129): false,
		"with\nnewline":          false,
		"unicode-\u00e9":         false,
	}
	for id, want := range cases {
		if got := isValidRequestID(id); got != want {
			t.Fatalf("isValidRequestID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "outer,inner,handler" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestStatusWriterKeepsFlusher(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	var w http.ResponseWriter = sw
	f, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("statusWriter must implement http.Flusher")
	}
	_, _ = sw.Write([]byte("x"))
	f.Flush()

	if !rec.Flushed {
		t.Fatal("flush was not forwarded")
	}
	if sw.status != http.StatusOK || sw.bytes != 1 {
		t.Fatalf("unexpected status/bytes: %d/%d", sw.status, sw.bytes)
	}
}
