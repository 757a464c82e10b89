package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/emcare/forms/internal/platform/fhir"
)

// BodyLimit caps request bodies at defaultLimit, or at largeLimit for the
// given route paths (value-set imports and completed responses can be big).
// Limits take K, M and G suffixes; a bare number is bytes. Oversized bodies
// get 413 with an OperationOutcome.
func BodyLimit(defaultLimit, largeLimit string, largeRoutes ...string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	largeBytes := parseLimit(largeLimit)
	large := make(map[string]bool, len(largeRoutes))
	for _, r := range largeRoutes {
		large[r] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if large[c.Path()] {
				limit = largeBytes
			}
			if req.ContentLength > limit {
				return payloadTooLarge(c, limit)
			}

			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit}
			return next(c)
		}
	}
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func payloadTooLarge(c echo.Context, limit int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, fhir.NewOperationOutcome(
		fhir.IssueSeverityError, "too-costly",
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit)))
}

// parseLimit parses "512K", "1M", "2G" or a byte count; anything else is 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n * multiplier
}
