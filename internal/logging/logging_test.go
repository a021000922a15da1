package logging

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"
)

func TestMiddlewareLogsStatusAndInjectsLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, 0)

	var fromCtx logr.Logger
	h := Middleware(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/routes", nil))

	out := buf.String()
	if !strings.Contains(out, `"path"="/v1/routes"`) || !strings.Contains(out, `"status"=418`) {
		t.Fatalf("unexpected log line: %s", out)
	}
	if fromCtx.GetSink() == nil {
		t.Fatal("handler did not receive the request logger")
	}
}

func TestFromContextWithoutLogger(t *testing.T) {
	l := FromContext(context.Background())
	l.Info("dropped") // must not panic
}
