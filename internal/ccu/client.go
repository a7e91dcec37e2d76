// Package ccu is the outbound XML-RPC client for one CCU interface.
// Calls run inside the interface's circuit breaker; reads coalesce so a
// burst of identical lookups costs one network round trip.
package ccu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/idna"
	"golang.org/x/time/rate"

	"github.com/ManuGH/hm2g/internal/coalesce"
	"github.com/ManuGH/hm2g/internal/eventbus"
	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/ManuGH/hm2g/internal/resilience"
	"github.com/ManuGH/hm2g/internal/telemetry"
	"github.com/ManuGH/hm2g/internal/xmlrpc"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 8 << 20
)

// Paramset keys understood by the CCU.
const (
	ParamsetValues = "VALUES"
	ParamsetMaster = "MASTER"
)

// Config describes one interface endpoint.
type Config struct {
	// InterfaceID names the CCU interface this client talks to.
	InterfaceID string
	// URL is the interface's XML-RPC endpoint, e.g. http://ccu:2001.
	URL string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// RateLimit caps outbound requests per second; 0 means unlimited.
	RateLimit float64
	// RateBurst is the limiter burst size when RateLimit is set.
	RateBurst int
}

// Option adjusts client construction.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBus lets the read coalescer publish join events.
func WithBus(b *eventbus.Bus) Option {
	return func(c *Client) { c.reads = coalesce.NewGroup[any](coalesce.WithBus(b)) }
}

// Client issues XML-RPC calls to one CCU interface.
type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	reads    *coalesce.Group[any]
	logger   zerolog.Logger
}

// New validates the endpoint and builds a client bound to the given
// breaker. The breaker usually comes from the shared Registry so every
// caller for the interface shares one health view.
func New(cfg Config, breaker *resilience.CircuitBreaker, opts ...Option) (*Client, error) {
	if cfg.InterfaceID == "" {
		return nil, errors.New("ccu: interface id is empty")
	}
	if breaker == nil {
		return nil, errors.New("ccu: circuit breaker is nil")
	}
	endpoint, err := normalizeEndpoint(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ccu: endpoint for %s: %w", cfg.InterfaceID, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	limit := rate.Inf
	burst := 0
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
	}

	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  breaker,
		reads:    coalesce.NewGroup[any](),
		logger: log.WithComponent("ccu").With().
			Str(log.FieldInterfaceID, cfg.InterfaceID).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// InterfaceID names the interface this client serves.
func (c *Client) InterfaceID() string { return c.cfg.InterfaceID }

// Endpoint is the normalized XML-RPC URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Breaker exposes the health state machine for aggregate reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// ClearPending cancels coalesced reads that are still in flight.
func (c *Client) ClearPending() { c.reads.Clear() }

// normalizeEndpoint parses and canonicalizes the interface URL. The
// host goes through IDNA mapping so config typos with uppercase or
// unicode hostnames compare stable.
func normalizeEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("url is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing url host")
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip == nil {
		ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
		if err != nil {
			return "", fmt.Errorf("invalid host %q: %w", host, err)
		}
		host = ascii
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// Init registers the local callback endpoint with the CCU. The CCU
// starts pushing events to callbackURL under the given id.
func (c *Client) Init(ctx context.Context, callbackURL, callbackID string) error {
	_, err := c.call(ctx, "Init", "init", []any{callbackURL, callbackID})
	if err == nil {
		c.logger.Info().
			Str(log.FieldEvent, "ccu.init").
			Str(log.FieldURL, callbackURL).
			Msg("callback registered")
	}
	return err
}

// Deinit deregisters the callback endpoint. The CCU convention is an
// init call with an empty id.
func (c *Client) Deinit(ctx context.Context, callbackURL string) error {
	_, err := c.call(ctx, "Deinit", "init", []any{callbackURL, ""})
	if err == nil {
		c.logger.Info().
			Str(log.FieldEvent, "ccu.deinit").
			Str(log.FieldURL, callbackURL).
			Msg("callback deregistered")
	}
	return err
}

// Ping asks the CCU to echo a pong event for callerID.
func (c *Client) Ping(ctx context.Context, callerID string) error {
	_, err := c.call(ctx, "Ping", "ping", []any{callerID})
	return err
}

// GetValue reads a single channel parameter. Concurrent identical reads
// coalesce into one call.
func (c *Client) GetValue(ctx context.Context, channelAddress, parameter string) (any, error) {
	return c.read(ctx, "GetValue", "getValue",
		[]any{channelAddress, parameter}, channelAddress, parameter)
}

// SetValue writes a single channel parameter. Writes never coalesce.
func (c *Client) SetValue(ctx context.Context, channelAddress, parameter string, value any) error {
	_, err := c.call(ctx, "SetValue", "setValue", []any{channelAddress, parameter, value})
	return err
}

// GetParamset reads a whole paramset for an address.
func (c *Client) GetParamset(ctx context.Context, address, paramsetKey string) (map[string]any, error) {
	result, err := c.read(ctx, "GetParamset", "getParamset",
		[]any{address, paramsetKey}, address, paramsetKey)
	if err != nil {
		return nil, err
	}
	set, ok := result.(map[string]any)
	if !ok {
		return nil, &CallError{Sentinel: ErrBadResponse, Operation: "GetParamset", Method: "getParamset",
			Err: fmt.Errorf("expected struct, got %T", result)}
	}
	return set, nil
}

// PutParamset writes multiple paramset values in one call.
func (c *Client) PutParamset(ctx context.Context, address, paramsetKey string, values map[string]any) error {
	_, err := c.call(ctx, "PutParamset", "putParamset", []any{address, paramsetKey, values})
	return err
}

// GetParamsetDescription reads the parameter metadata for an address.
func (c *Client) GetParamsetDescription(ctx context.Context, address, paramsetKey string) (map[string]any, error) {
	result, err := c.read(ctx, "GetParamsetDescription", "getParamsetDescription",
		[]any{address, paramsetKey}, address, paramsetKey)
	if err != nil {
		return nil, err
	}
	desc, ok := result.(map[string]any)
	if !ok {
		return nil, &CallError{Sentinel: ErrBadResponse, Operation: "GetParamsetDescription",
			Method: "getParamsetDescription", Err: fmt.Errorf("expected struct, got %T", result)}
	}
	return desc, nil
}

// ListDevices fetches all device descriptions the interface knows.
func (c *Client) ListDevices(ctx context.Context) ([]map[string]any, error) {
	result, err := c.read(ctx, "ListDevices", "listDevices", nil)
	if err != nil {
		return nil, err
	}
	raw, ok := result.([]any)
	if !ok {
		return nil, &CallError{Sentinel: ErrBadResponse, Operation: "ListDevices", Method: "listDevices",
			Err: fmt.Errorf("expected array, got %T", result)}
	}
	devices := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		desc, ok := item.(map[string]any)
		if !ok {
			return nil, &CallError{Sentinel: ErrBadResponse, Operation: "ListDevices", Method: "listDevices",
				Err: fmt.Errorf("expected struct entry, got %T", item)}
		}
		devices = append(devices, desc)
	}
	return devices, nil
}

// GetVersion reports the interface firmware version string.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	result, err := c.read(ctx, "GetVersion", "getVersion", nil)
	if err != nil {
		return "", err
	}
	version, ok := result.(string)
	if !ok {
		return "", &CallError{Sentinel: ErrBadResponse, Operation: "GetVersion", Method: "getVersion",
			Err: fmt.Errorf("expected string, got %T", result)}
	}
	return version, nil
}

// read funnels a coalescable call through the shared group. keyParts
// distinguish calls of the same method with different arguments.
func (c *Client) read(ctx context.Context, op, method string, params []any, keyParts ...string) (any, error) {
	key := method
	if len(keyParts) > 0 {
		key += "|" + strings.Join(keyParts, "|")
	}
	return c.reads.Execute(ctx, key, func(execCtx context.Context) (any, error) {
		return c.call(execCtx, op, method, params)
	})
}

// call runs one XML-RPC round trip inside the breaker. Transport-level
// failures count against the breaker; a fault response proves the peer
// alive and does not.
func (c *Client) call(ctx context.Context, op, method string, params []any) (any, error) {
	var (
		result   any
		faultErr *CallError
	)
	ctx, span := telemetry.Tracer("hm2g/ccu").Start(ctx, "ccu."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.CCUCallAttributes(method, c.cfg.InterfaceID, c.endpoint)...))
	defer span.End()

	started := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			// No network attempt happened; this must not count
			// against the peer.
			return fmt.Errorf("%w: limiter: %w", resilience.ErrInconclusive, err)
		}
		data, err := xmlrpc.EncodeRequest(method, params)
		if err != nil {
			return &CallError{Sentinel: ErrBadResponse, Operation: op, Method: method, Err: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
		if err != nil {
			return &CallError{Sentinel: ErrBadResponse, Operation: op, Method: method, Err: err}
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")

		res, err := c.http.Do(req)
		if err != nil {
			return c.transportError(op, method, err)
		}
		defer func() { _ = res.Body.Close() }()

		if res.StatusCode != http.StatusOK {
			return &CallError{Sentinel: ErrBadResponse, Operation: op, Method: method, Status: res.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
		if err != nil {
			return c.transportError(op, method, err)
		}

		decoded, err := xmlrpc.DecodeResponse(body)
		if err != nil {
			var fault *xmlrpc.Fault
			if errors.As(err, &fault) {
				faultErr = &CallError{Sentinel: ErrFault, Operation: op, Method: method, Fault: fault}
				return nil
			}
			return &CallError{Sentinel: ErrBadResponse, Operation: op, Method: method, Err: err}
		}
		result = decoded
		return nil
	})

	elapsed := time.Since(started).Seconds()
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		metrics.ObserveCCUCall(c.cfg.InterfaceID, method, "transport", elapsed)
		c.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "ccu.call_failed").
			Str(log.FieldMethod, method).
			Msg("outbound call failed")
		return nil, err
	case faultErr != nil:
		metrics.ObserveCCUCall(c.cfg.InterfaceID, method, "fault", elapsed)
		c.logger.Debug().
			Str(log.FieldEvent, "ccu.call_fault").
			Str(log.FieldMethod, method).
			Int("fault_code", faultErr.Fault.Code).
			Msg("peer answered with a fault")
		return nil, faultErr
	default:
		metrics.ObserveCCUCall(c.cfg.InterfaceID, method, "success", elapsed)
		return result, nil
	}
}

func (c *Client) transportError(op, method string, err error) *CallError {
	sentinel := ErrUnreachable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		sentinel = ErrTimeout
	}
	return &CallError{Sentinel: sentinel, Operation: op, Method: method, Err: err}
}
