package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output"
)

const defaultTimeout = 30 * time.Second

func init() {
	output.Register(config.SinkServer, func(cfg config.Config, deps output.Deps) (output.Sink, error) {
		opts := []Option{
			WithHeaders(cfg.Target.StaticHeaders),
			WithTimeout(cfg.HTTPTimeout),
			WithLogger(deps.Logger),
		}
		if cfg.Target.Proxy != "" {
			opts = append(opts, WithProxy(cfg.Target.Proxy))
		}
		return New(cfg.Target.Endpoint, opts...)
	})
}

// StatusError is returned when the target answers with anything but 200.
type StatusError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures a webhook Sink.
type Option func(*Sink)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(s *Sink) { s.headers = h }
}

// WithTimeout sets the HTTP client timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// WithProxy routes requests through an outbound HTTP proxy.
func WithProxy(raw string) Option {
	return func(s *Sink) { s.proxy = raw }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sink POSTs the raw batch bytes to an HTTP endpoint as one payload.
// Only a 200 response counts as delivered. There are no retries: the next
// cycle re-fetches from the unchanged checkpoint instead.
type Sink struct {
	client  *http.Client
	url     string
	headers map[string]string
	proxy   string
	logger  *slog.Logger
}

// New creates a webhook sink targeting the given URL.
func New(target string, opts ...Option) (*Sink, error) {
	if target == "" {
		return nil, fmt.Errorf("webhook: target endpoint is required")
	}
	s := &Sink{
		client: &http.Client{Timeout: defaultTimeout},
		url:    target,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.proxy != "" {
		proxyURL, err := url.Parse(s.proxy)
		if err != nil {
			return nil, fmt.Errorf("webhook: parse proxy %q: %w", s.proxy, err)
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyURL(proxyURL)
		s.client.Transport = t
	}
	return s, nil
}

func (s *Sink) Name() string { return config.SinkServer }

// Send issues a single POST of batch.Raw.
func (s *Sink) Send(ctx context.Context, batch model.Batch) error {
	s.logger.Info("sending audit batch", "bytes", len(batch.Raw), "target", s.url, "proxy", s.proxy)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(batch.Raw))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err == nil {
		_, err = io.Copy(io.Discard, resp.Body)
	}
	resp.Body.Close()
	if err != nil {
		// The status line decides delivery; a short body does not.
		s.logger.Debug("reading response body failed", "status", resp.StatusCode, "error", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	s.logger.Info("audit batch posted", "status", resp.StatusCode)
	return nil
}

// Close releases idle connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
