package proxy

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/imagerelay/imagerelay/internal/config"
	"github.com/imagerelay/imagerelay/internal/fetch"
	"github.com/imagerelay/imagerelay/internal/imageproc"
)

func testHandler(t *testing.T, cfg *config.Config) *Handler {
	t.Helper()
	fetcher := fetch.New(2*time.Second, cfg.MaxFileSize, cfg.AllowedDomains, cfg.BlockedDomains, true)
	service := NewService(cfg, imageproc.NewSimpleEngine(), fetcher, zerolog.Nop())
	return NewHandler(service, cfg, zerolog.Nop())
}

func upstreamPNG(t *testing.T, width, height int) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode upstream image: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)
	return server
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body["error"]
}

func TestHandleTransformSuccess(t *testing.T) {
	cfg := &config.Config{
		MaxWidth: 4096, MaxHeight: 4096,
		DefaultQuality: 80, DefaultFormat: "webp",
		MaxFileSize: 1 << 20,
	}
	handler := testHandler(t, cfg)
	upstream := upstreamPNG(t, 300, 200)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+upstream.URL+"/photo.png&width=150&format=png", nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	headers := map[string]string{
		"Content-Type":       "image/png",
		"Cache-Control":      "public, max-age=31536000, immutable",
		"X-Original-Width":   "300",
		"X-Original-Height":  "200",
		"X-Processed-Width":  "150",
		"X-Processed-Height": "100",
		"X-Processed-Format": "png",
		"X-Resize-Applied":   "true",
	}
	for name, expected := range headers {
		if got := rec.Header().Get(name); got != expected {
			t.Errorf("%s = %q, expected %q", name, got, expected)
		}
	}

	cfgOut, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response body is not a decodable image: %v", err)
	}
	if format != "png" || cfgOut.Width != 150 || cfgOut.Height != 100 {
		t.Errorf("body decodes to %s %dx%d, expected png 150x100", format, cfgOut.Width, cfgOut.Height)
	}
}

func TestHandleTransformNoResizeNeeded(t *testing.T) {
	cfg := &config.Config{
		MaxWidth: 4096, MaxHeight: 4096,
		DefaultQuality: 80, DefaultFormat: "webp",
		MaxFileSize: 1 << 20,
	}
	handler := testHandler(t, cfg)
	upstream := upstreamPNG(t, 100, 80)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+upstream.URL+"/a.png&format=png", nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Resize-Applied"); got != "false" {
		t.Errorf("X-Resize-Applied = %q, expected false", got)
	}
	if got := rec.Header().Get("X-Processed-Width"); got != "100" {
		t.Errorf("X-Processed-Width = %q, expected 100", got)
	}
}

func TestHandleTransformMissingURL(t *testing.T) {
	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1 << 20}
	handler := testHandler(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/image", nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rec.Code)
	}
	if msg := errorBody(t, rec); msg == "" {
		t.Error("error body has no message")
	}
}

func TestHandleTransformUnsupportedFormatParam(t *testing.T) {
	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1 << 20}
	handler := testHandler(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/image?url=https://example.com/a.jpg&format=bmp", nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rec.Code)
	}
}

func TestHandleTransformNotAnImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1 << 20}
	handler := testHandler(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+server.URL, nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rec.Code)
	}
}

func TestHandleTransformPayloadTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(make([]byte, 4096))
	}))
	defer server.Close()

	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1024}
	handler := testHandler(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+server.URL, nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, expected 413", rec.Code)
	}
}

func TestHandleTransformUpstreamStatusMirrored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1 << 20}
	handler := testHandler(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+server.URL, nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, expected mirrored 404", rec.Code)
	}
}

func TestHandleTransformCorruptImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("definitely not a png"))
	}))
	defer server.Close()

	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1 << 20}
	handler := testHandler(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+server.URL, nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rec.Code)
	}
}

func TestHandleTransformInternalMessageSanitized(t *testing.T) {
	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1 << 20, DevMode: false}
	handler := testHandler(t, cfg)

	rec := httptest.NewRecorder()
	handler.writeError(rec, newError(KindInternal, "dial tcp 10.0.0.1: secrets"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, expected 500", rec.Code)
	}
	if msg := errorBody(t, rec); msg != "internal server error" {
		t.Errorf("internal message leaked: %q", msg)
	}
}

func TestHandleTransformDomainBlocked(t *testing.T) {
	cfg := &config.Config{
		MaxWidth: 4096, MaxHeight: 4096,
		DefaultQuality: 80, DefaultFormat: "webp",
		MaxFileSize:    1 << 20,
		BlockedDomains: []string{"127.0.0.1"},
	}
	handler := testHandler(t, cfg)
	upstream := upstreamPNG(t, 10, 10)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+upstream.URL, nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, expected 403", rec.Code)
	}
}

func TestHandleTransformGrayscale(t *testing.T) {
	cfg := &config.Config{MaxWidth: 4096, MaxHeight: 4096, DefaultQuality: 80, DefaultFormat: "webp", MaxFileSize: 1 << 20}
	handler := testHandler(t, cfg)
	upstream := upstreamPNG(t, 32, 32)

	req := httptest.NewRequest(http.MethodGet, "/image?url="+upstream.URL+"&grayscale=true&format=png", nil)
	rec := httptest.NewRecorder()
	handler.HandleTransform(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	img, _, err := image.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	r, g, b, _ := img.At(5, 9).RGBA()
	if r != g || g != b {
		t.Errorf("pixel (5,9) = (%d,%d,%d), expected grayscale", r, g, b)
	}
}
