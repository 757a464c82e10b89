package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("unexpected header %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Logger(zerolog.New(&buf)))
	e.GET("/api/v1/topics", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/topics", nil))

	out := buf.String()
	for _, want := range []string{`"path":"/api/v1/topics"`, `"status":200`, `"request_id"`, `"message":"request"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}

func TestLogger_LogsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Logger(zerolog.New(&buf)))
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"status":502`) {
		t.Errorf("unexpected log: %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("test panic")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OperationOutcome") {
		t.Errorf("expected OperationOutcome body, got %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	h := Recovery(zerolog.Nop())(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"":     1 << 20,
		"512":  512,
		"64K":  64 << 10,
		"64KB": 64 << 10,
		"2M":   2 << 20,
		"1g":   1 << 30,
		"junk": 1 << 20,
		"-5":   1 << 20,
	}
	for in, want := range tests {
		if got := parseLimit(in); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func bodyLimitEcho() *echo.Echo {
	e := echo.New()
	e.Use(BodyLimit("16", "64", "/large"))
	read := func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(data))
	}
	e.POST("/small", read)
	e.POST("/large", read)
	return e
}

func TestBodyLimit(t *testing.T) {
	e := bodyLimitEcho()
	tests := []struct {
		path string
		body string
		code int
	}{
		{"/small", "tiny", http.StatusOK},
		{"/small", strings.Repeat("x", 32), http.StatusRequestEntityTooLarge},
		{"/large", strings.Repeat("x", 32), http.StatusOK},
		{"/large", strings.Repeat("x", 100), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
		if rec.Code != tt.code {
			t.Errorf("%s with %d bytes: expected %d, got %d", tt.path, len(tt.body), tt.code, rec.Code)
		}
	}
}

func TestBodyLimit_EnforcedWithoutContentLength(t *testing.T) {
	e := bodyLimitEcho()
	req := httptest.NewRequest(http.MethodPost, "/small", io.NopCloser(strings.NewReader(strings.Repeat("x", 32))))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}
