package http

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/imagerelay/imagerelay/internal/config"
	"github.com/imagerelay/imagerelay/internal/fetch"
	"github.com/imagerelay/imagerelay/internal/imageproc"
	"github.com/imagerelay/imagerelay/internal/proxy"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		MaxWidth: 4096, MaxHeight: 4096,
		DefaultQuality: 80, DefaultFormat: "webp",
		MaxFileSize: 1 << 20,
	}
	fetcher := fetch.New(2*time.Second, cfg.MaxFileSize, nil, nil, true)
	service := proxy.NewService(cfg, imageproc.NewSimpleEngine(), fetcher, zerolog.Nop())
	handler := proxy.NewHandler(service, cfg, zerolog.Nop())
	return NewServer(cfg, zerolog.Nop(), handler)
}

func TestHealthCheck(t *testing.T) {
	routes := testServer(t).Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, expected ok", body["status"])
	}
	if body["timestamp"] == "" {
		t.Error("health body has no timestamp")
	}
}

func TestImageRouteRejectsOtherMethods(t *testing.T) {
	routes := testServer(t).Routes()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/image?url=https://example.com/a.jpg", nil)
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s /image: status = %d, expected 405", method, rec.Code)
		}
	}
}

func TestImageRouteEndToEnd(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 60, 40))); err != nil {
		t.Fatalf("failed to encode upstream image: %v", err)
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	routes := testServer(t).Routes()

	req := httptest.NewRequest(http.MethodGet, "/image?url="+upstream.URL+"&width=30&format=png", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Processed-Width"); got != "30" {
		t.Errorf("X-Processed-Width = %q, expected 30", got)
	}
	if got := rec.Header().Get("X-Processed-Height"); got != "20" {
		t.Errorf("X-Processed-Height = %q, expected 20", got)
	}
}

func TestRootRouteServesTransform(t *testing.T) {
	routes := testServer(t).Routes()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	// No url parameter: the pipeline answers with its own 400, proving
	// the root route reaches the transform handler.
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected 400 from the transform handler", rec.Code)
	}
}
