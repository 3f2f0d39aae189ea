package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// apiKeyHeader carries the AI Guard API key on every proxy request.
const apiKeyHeader = "X-ApiKey"

// DefaultHTTPTimeout bounds a single proxy round trip.
const DefaultHTTPTimeout = 120 * time.Second

// settings are the knobs shared by both gateway variants.
type settings struct {
	logger     *log.Logger
	retry      RetryPolicy
	httpClient *http.Client
}

func defaultSettings() settings {
	return settings{
		logger: log.New(io.Discard, "", 0),
		retry:  DefaultRetryPolicy(),
	}
}

// Option configures a gateway variant.
type Option func(*settings)

// WithLogger sets the gateway's logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *settings) { s.retry = policy }
}

// WithHTTPClient substitutes the HTTP client used by the proxy variant.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) { s.httpClient = client }
}

// ZGuardGateway invokes a Bedrock model through the Zscaler AI Guard
// proxy. The proxy enforces content and DLP policy on both directions
// of the exchange and reports violations as HTTP 403.
type ZGuardGateway struct {
	settings
	endpoint string
	apiKey   string
	modelID  string
	opts     Options
}

// NewZGuardGateway creates a proxy gateway targeting
// {baseURL}/model/{modelID}/invoke.
func NewZGuardGateway(baseURL, apiKey, modelID string, opts Options, gwOpts ...Option) *ZGuardGateway {
	s := defaultSettings()
	for _, opt := range gwOpts {
		opt(&s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &ZGuardGateway{
		settings: s,
		endpoint: fmt.Sprintf("%s/model/%s/invoke", strings.TrimRight(baseURL, "/"), modelID),
		apiKey:   apiKey,
		modelID:  modelID,
		opts:     opts,
	}
}

// ModelID returns the target model identifier.
func (g *ZGuardGateway) ModelID() string { return g.modelID }

// Invoke submits one conversation state to the model through the proxy.
// Rate limits, unavailability, and timeouts are retried with backoff;
// policy blocks, auth failures, and invalid requests are returned
// immediately as their typed errors.
func (g *ZGuardGateway) Invoke(ctx context.Context, messages []Message, tools []ToolDefinition) (*ModelResponse, error) {
	payload, err := buildRequestBody(g.opts, messages, tools)
	if err != nil {
		return nil, &InvalidRequestError{GatewayError: GatewayError{
			Message: "failed to encode request body",
			Cause:   err,
		}}
	}

	return Retry(ctx, g.retry, func(ctx context.Context) (*ModelResponse, error) {
		return g.invokeOnce(ctx, payload)
	})
}

func (g *ZGuardGateway) invokeOnce(ctx context.Context, payload []byte) (*ModelResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &InvalidRequestError{GatewayError: GatewayError{
			Message: "failed to build gateway request",
			Cause:   err,
		}}
	}
	req.Header.Set(apiKeyHeader, g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	g.logger.Printf("sending request to %s", g.endpoint)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{GatewayError: GatewayError{
			Message:   "failed to read gateway response",
			Retryable: true,
			Cause:     err,
		}}
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.Printf("gateway returned status %d", resp.StatusCode)
		return nil, ErrorFromStatusCode(resp.StatusCode, errorDetail(body))
	}

	var out ModelResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &GatewayError{
			Message: "gateway returned an unparsable response body",
			Cause:   err,
		}
	}
	return &out, nil
}

// classifyTransportError distinguishes client-side timeouts from
// connection failures; both are retryable.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{GatewayError: GatewayError{
			Message:   "request timed out before the gateway responded",
			Retryable: true,
			Cause:     err,
		}}
	}
	return &UnavailableError{GatewayError: GatewayError{
		Message:   "unable to reach the AI gateway",
		Retryable: true,
		Cause:     err,
	}}
}

// errorDetail extracts a human-readable message from an error body,
// falling back to the raw (truncated) text.
func errorDetail(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 500 {
		detail = detail[:500]
	}
	return detail
}
