package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/smilemakc/planflow/internal/domain"
)

// HTTPCallbackSink forwards every flow event to an HTTP endpoint as a JSON
// POST. Delivery is fire-and-forget: a slow or unreachable endpoint never
// delays the run that produced the event.
type HTTPCallbackSink struct {
	// callbackURL is the HTTP endpoint to send events to
	callbackURL string
	// client is the HTTP client used for making requests
	client *http.Client
	// headers are additional headers to include in requests
	headers map[string]string
	// timeout is the request timeout duration
	timeout time.Duration
	// mu protects concurrent access to the sink
	mu sync.RWMutex
	// enabled indicates whether the sink is active
	enabled bool
}

// HTTPCallbackSinkConfig holds configuration for HTTPCallbackSink.
type HTTPCallbackSinkConfig struct {
	// CallbackURL is the HTTP endpoint to send events to (required)
	CallbackURL string
	// Timeout is the request timeout (default: 5 seconds)
	Timeout time.Duration
	// Headers are additional headers to include in requests
	Headers map[string]string
	// Client is an optional HTTP client (if nil, a default client is created)
	Client *http.Client
}

// NewHTTPCallbackSink creates a new HTTPCallbackSink with the given
// configuration.
func NewHTTPCallbackSink(config HTTPCallbackSinkConfig) (*HTTPCallbackSink, error) {
	if config.CallbackURL == "" {
		return nil, fmt.Errorf("callback URL is required")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
		}
	}

	headers := make(map[string]string)
	for k, v := range config.Headers {
		headers[k] = v
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}

	return &HTTPCallbackSink{
		callbackURL: config.CallbackURL,
		client:      client,
		headers:     headers,
		timeout:     timeout,
		enabled:     true,
	}, nil
}

// SetEnabled enables or disables the sink.
func (s *HTTPCallbackSink) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// IsEnabled returns whether the sink is enabled.
func (s *HTTPCallbackSink) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Emit implements domain.FlowEventSink. The POST happens on its own
// goroutine; delivery failures are dropped.
func (s *HTTPCallbackSink) Emit(event *domain.FlowEvent) {
	if event == nil || !s.IsEnabled() {
		return
	}
	go func() {
		_ = s.send(event)
	}()
}

// send performs one HTTP POST with the event's JSON encoding.
func (s *HTTPCallbackSink) send(event *domain.FlowEvent) error {
	s.mu.RLock()
	url := s.callbackURL
	client := s.client
	headers := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		headers[k] = v
	}
	s.mu.RUnlock()

	jsonData, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned non-success status: %d", resp.StatusCode)
	}

	return nil
}
