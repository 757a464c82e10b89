package transform

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel selects how much of each outbound exchange is logged.
type LogLevel int

const (
	LogNone LogLevel = iota
	// LogBasic logs method, URL, status and duration.
	LogBasic
	// LogBody adds request and response bodies.
	LogBody
)

// maxLoggedBody caps the bytes of a body written to the log.
const maxLoggedBody = 64 * 1024

// ParseLogLevel maps NONE, BASIC and BODY (any case) to a level. Unknown
// values fall back to LogBasic.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return LogNone
	case "BODY":
		return LogBody
	default:
		return LogBasic
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogNone:
		return "NONE"
	case LogBody:
		return "BODY"
	default:
		return "BASIC"
	}
}

// LoggingTransport is an http.RoundTripper that logs each exchange.
type LoggingTransport struct {
	Next   http.RoundTripper
	Logger zerolog.Logger
	Level  LogLevel
}

// NewLoggingClient returns an http.Client whose transport logs at level.
func NewLoggingClient(logger zerolog.Logger, level LogLevel, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &LoggingTransport{Next: http.DefaultTransport, Logger: logger, Level: level},
	}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	if t.Level == LogNone {
		return next.RoundTrip(req)
	}

	var reqBody []byte
	if t.Level >= LogBody && req.Body != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			reqBody, _ = io.ReadAll(io.LimitReader(body, maxLoggedBody))
			body.Close()
		}
	}

	start := time.Now()
	resp, err := next.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		t.Logger.Error().Err(err).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Dur("latency", elapsed).
			Msg("outbound request failed")
		return nil, err
	}

	evt := t.Logger.Info().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Dur("latency", elapsed)

	if t.Level >= LogBody {
		if len(reqBody) > 0 {
			evt = evt.Str("request_body", string(reqBody))
		}
		if resp.Body != nil {
			data, rerr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(data))
			if rerr == nil {
				if len(data) > maxLoggedBody {
					data = data[:maxLoggedBody]
				}
				evt = evt.Str("response_body", string(data))
			}
		}
	}
	evt.Msg("outbound request")
	return resp, nil
}
