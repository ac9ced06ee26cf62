package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/channels/1/replay", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	var sb strings.Builder
	recorder.Write(&sb)
	if !strings.Contains(sb.String(), `clipping_http_requests_total{method="GET",path="/v1/channels/1/replay",status="404"} 1`) {
		t.Fatalf("request was not recorded:\n%s", sb.String())
	}
}

func TestHTTPMiddlewareDefaultsStatusOK(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var sb strings.Builder
	recorder.Write(&sb)
	if !strings.Contains(sb.String(), `status="200"} 1`) {
		t.Fatalf("default status not recorded:\n%s", sb.String())
	}
}

func TestHTTPMiddlewareNilRecorderUsesDefault(t *testing.T) {
	Default().Reset()
	handler := HTTPMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/v1/channels/1/replay", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var sb strings.Builder
	Default().Write(&sb)
	if !strings.Contains(sb.String(), `status="204"} 1`) {
		t.Fatalf("default recorder did not capture the request:\n%s", sb.String())
	}
	Default().Reset()
}

func TestResponseRecorderStatus(t *testing.T) {
	base := httptest.NewRecorder()
	rr := NewResponseRecorder(base)
	if rr.Status() != http.StatusOK {
		t.Fatalf("initial status = %d", rr.Status())
	}
	rr.WriteHeader(http.StatusBadGateway)
	if rr.Status() != http.StatusBadGateway {
		t.Fatalf("status after WriteHeader = %d", rr.Status())
	}
	if base.Code != http.StatusBadGateway {
		t.Fatalf("underlying writer status = %d", base.Code)
	}
}
