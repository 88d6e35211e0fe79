package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ytsheets/internal/logger"

	"github.com/rs/zerolog"
)

// TransportConfig configures the outbound transport.
type TransportConfig struct {
	// RequestTimeout bounds each request, including reading the body.
	RequestTimeout time.Duration
	// RequestDelay is the minimum spacing between requests to one host.
	RequestDelay time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	FailureThreshold int
	RecoveryTimeout  time.Duration

	UserAgent string
	Logger    *zerolog.Logger
}

// DefaultTransportConfig returns the defaults used by the CLI.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		RequestTimeout:      15 * time.Second,
		RequestDelay:        100 * time.Millisecond,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		FailureThreshold:    DefaultFailureThreshold,
		RecoveryTimeout:     DefaultRecoveryTimeout,
		UserAgent:           "ytsheets/1.0",
	}
}

// Transport is an http.RoundTripper that rate limits and circuit-breaks
// per host before delegating to a pooled *http.Transport.
type Transport struct {
	base      http.RoundTripper
	limiter   *RateLimiter
	breaker   *CircuitBreaker
	userAgent string
	log       *zerolog.Logger
}

// NewTransport creates a Transport. Zero fields of cfg take their defaults.
func NewTransport(cfg TransportConfig) *Transport {
	def := DefaultTransportConfig()
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConns = cfg.MaxIdleConns
	base.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	base.MaxConnsPerHost = cfg.MaxConnsPerHost
	base.IdleConnTimeout = cfg.IdleConnTimeout
	base.ForceAttemptHTTP2 = true

	return newTransport(base, cfg)
}

func newTransport(base http.RoundTripper, cfg TransportConfig) *Transport {
	t := &Transport{
		base:      base,
		limiter:   NewRateLimiter(cfg.RequestDelay),
		breaker:   NewCircuitBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout),
		userAgent: cfg.UserAgent,
		log:       cfg.Logger,
	}
	if t.log == nil {
		t.log = logger.Named("http")
	}
	log := t.log
	t.breaker.OnStateChange = func(host string, from, to CircuitState) {
		log.Warn().Str("host", host).Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
	}
	return t
}

// NewClient returns an *http.Client with Timeout set to cfg.RequestTimeout
// and a fresh Transport.
func NewClient(cfg TransportConfig) (*http.Client, *Transport) {
	t := NewTransport(cfg)
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultTransportConfig().RequestTimeout
	}
	return &http.Client{Transport: t, Timeout: timeout}, t
}

// SetDelay changes the per-host request spacing.
func (t *Transport) SetDelay(d time.Duration) {
	t.limiter.SetDelay(d)
}

// Breaker exposes the circuit breaker for inspection.
func (t *Transport) Breaker() *CircuitBreaker { return t.breaker }

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()

	if err := t.breaker.Allow(host); err != nil {
		return nil, fmt.Errorf("%s: %w", host, err)
	}
	if err := t.limiter.Wait(req.Context(), host); err != nil {
		return nil, err
	}

	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if req.Context().Err() == nil {
			t.breaker.RecordFailure(host)
		}
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header)
		wait := t.limiter.RecordRateLimitError(host, retryAfter)
		t.breaker.RecordFailure(host)
		t.log.Debug().Err(&StatusError{Host: host, StatusCode: resp.StatusCode, RetryAfter: retryAfter}).
			Dur("wait", wait).Msg("host throttled")
	case resp.StatusCode >= 500:
		t.breaker.RecordFailure(host)
		t.log.Debug().Err(&StatusError{Host: host, StatusCode: resp.StatusCode}).Msg("upstream server error")
	default:
		t.breaker.RecordSuccess(host)
		t.limiter.RecordSuccess(host)
	}
	return resp, nil
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
