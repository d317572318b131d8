package voxmap

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxRetries   = 3
	// DefaultPollInterval applies to sensors with an apiUrl but no pollInterval.
	DefaultPollInterval = 5 * time.Second

	defaultBaseBackoff = 500 * time.Millisecond

	// A dense depth batch is a few MB; anything past this is not a batch.
	maxResponseBytes = 50 << 20
)

// fetchConfig is the resolved set of FetchOptions.
type fetchConfig struct {
	client   *http.Client // nil: build one with timeout
	timeout  time.Duration
	attempts int
	retry    backoff
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:  DefaultFetchTimeout,
		attempts: DefaultMaxRetries,
		retry:    backoff{base: defaultBaseBackoff},
	}
}

func newFetchConfig(opts []FetchOption) fetchConfig {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.attempts = max(cfg.attempts, 1)
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: cfg.timeout}
	}
	return cfg
}

// FetchOption tunes a FetchFrame call or every fetch of a PollSource.
type FetchOption func(*fetchConfig)

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.timeout = d }
}

// WithMaxRetries sets the total number of attempts; values below 1 mean 1.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) { c.attempts = n }
}

// WithBaseBackoff sets the wait before the second attempt. It doubles for
// every further attempt.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.retry.base = d }
}

// WithHTTPClient replaces the default client; WithTimeout is then ignored.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) { c.client = client }
}

// FetchFrame fetches and decodes one point batch from apiURL. Transport
// failures and non-200 replies are retried with exponential backoff; a reply
// that does not decode is returned at once.
func FetchFrame(ctx context.Context, apiURL string, opts ...FetchOption) (*Frame, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch frame: API URL is empty")
	}
	cfg := newFetchConfig(opts)

	var lastErr error
	for n := range cfg.attempts {
		if err := sleepCtx(ctx, cfg.retry.delay(n)); err != nil {
			return nil, fmt.Errorf("fetch frame: %w", err)
		}

		body, err := getBody(ctx, cfg.client, apiURL)
		if err != nil {
			lastErr = err
			continue
		}
		f, err := DecodeFrame(body)
		if err != nil {
			return nil, fmt.Errorf("fetch frame: %w", err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("fetch frame: all %d attempts failed: %w", cfg.attempts, lastErr)
}

// getBody performs one GET and returns at most maxResponseBytes of body.
func getBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

// PollSource fetches a batch from the sensor's apiUrl every pollInterval.
// Fetch failures are logged and the next tick tries again.
func PollSource(sc SensorConfig, opts ...FetchOption) FrameSource {
	interval := sc.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return func(ctx context.Context, emit FrameHandler) error {
		if sc.ApiURL == nil || *sc.ApiURL == "" {
			return fmt.Errorf("sensor %s has no apiUrl", sc.ID)
		}
		url := *sc.ApiURL
		log.Printf("Polling %s every %v for sensor %s", url, interval, sc.ID)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			f, err := FetchFrame(ctx, url, opts...)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				log.Printf("Error polling %s for %s: %v", url, sc.ID, err)
			default:
				f.SensorID = sc.ID
				emit(f)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}
