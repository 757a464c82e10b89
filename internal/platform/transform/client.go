// Package transform talks to a Matchbox/HAPI style FHIR server: it uploads
// structure maps, runs StructureMap/$transform on questionnaire responses and
// posts transaction bundles.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/emcare/forms/internal/platform/fhir"
)

var (
	// ErrNoTargetMap is returned when neither the questionnaire nor the resolved
	// structure map carries a canonical URL.
	ErrNoTargetMap = errors.New("questionnaire has no target structure map")
	// ErrServer is returned for non-2xx responses from the FHIR server.
	ErrServer = errors.New("fhir server error")
)

// maxResponseSize bounds the body read from the FHIR server.
const maxResponseSize = 32 * 1024 * 1024

// Client is a FHIR server client for structure map based extraction.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// gets a default client with a 60 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// BaseURL returns the server base without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Extract runs the questionnaire's target structure map on response. The map
// is obtained through resolve, uploaded to the server and then applied with
// $transform. The returned bytes are the server's output resource, normally
// a Bundle.
func (c *Client) Extract(ctx context.Context, questionnaire, response []byte, resolve func(context.Context, string) ([]byte, error)) ([]byte, error) {
	q, err := fhir.DecodeResource(questionnaire)
	if err != nil {
		return nil, fmt.Errorf("questionnaire: %w", err)
	}
	parsed, err := fhir.ParseQuestionnaire(q)
	if err != nil {
		return nil, fmt.Errorf("questionnaire: %w", err)
	}

	// Without the extension the resolver is asked for "" and the map's own
	// canonical URL names the transform source.
	target := parsed.TargetStructureMap
	structureMap, err := resolve(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("resolve structure map %s: %w", target, err)
	}
	if target == "" {
		if target = canonicalURL(structureMap); target == "" {
			return nil, fmt.Errorf("%w: %s", ErrNoTargetMap, parsed.URL)
		}
	}

	mapURL, err := c.PutStructureMap(ctx, structureMap)
	if err != nil {
		return nil, err
	}
	if mapURL == "" {
		mapURL = target
	}
	return c.Transform(ctx, mapURL, response)
}

func canonicalURL(structureMap []byte) string {
	sm, err := fhir.DecodeResource(structureMap)
	if err != nil {
		return ""
	}
	u, _ := sm["url"].(string)
	return u
}

// PutStructureMap stores the map on the server, by id when it has one, and
// returns its canonical URL.
func (c *Client) PutStructureMap(ctx context.Context, structureMap []byte) (string, error) {
	sm, err := fhir.DecodeResource(structureMap)
	if err != nil {
		return "", fmt.Errorf("structure map: %w", err)
	}
	if rt := fhir.ResourceType(sm); rt != "StructureMap" {
		return "", fmt.Errorf("structure map: %w: got %q", fhir.ErrNotAResource, rt)
	}

	method, endpoint := http.MethodPost, c.baseURL+"/StructureMap"
	if id, _ := sm["id"].(string); id != "" {
		method, endpoint = http.MethodPut, endpoint+"/"+url.PathEscape(id)
	}
	if _, err := c.do(ctx, method, endpoint, structureMap); err != nil {
		return "", fmt.Errorf("upload structure map: %w", err)
	}

	canonical, _ := sm["url"].(string)
	return canonical, nil
}

// Transform applies the map with the given canonical URL to source.
func (c *Client) Transform(ctx context.Context, mapURL string, source []byte) ([]byte, error) {
	endpoint := c.baseURL + "/StructureMap/$transform?source=" + url.QueryEscape(mapURL)
	out, err := c.do(ctx, http.MethodPost, endpoint, source)
	if err != nil {
		return nil, fmt.Errorf("transform with %s: %w", mapURL, err)
	}
	return out, nil
}

// Transaction posts a transaction bundle to the server base and returns the
// transaction-response bundle.
func (c *Client) Transaction(ctx context.Context, bundle []byte) ([]byte, error) {
	out, err := c.do(ctx, http.MethodPost, c.baseURL, bundle)
	if err != nil {
		return nil, fmt.Errorf("post transaction: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", fhir.MIMEApplicationFHIRJSON)
	req.Header.Set("Accept", fhir.MIMEApplicationFHIRJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if oo := fhir.ParseOperationOutcome(data); oo != nil {
			if d := oo.Diagnostics(); d != "" {
				msg = d
			}
		}
		c.logger.Warn().
			Str("method", method).
			Str("url", endpoint).
			Int("status", resp.StatusCode).
			Str("diagnostics", msg).
			Msg("fhir server rejected request")
		return nil, fmt.Errorf("%w: %d %s", ErrServer, resp.StatusCode, msg)
	}
	return data, nil
}
