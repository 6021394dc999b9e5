package fetcher

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/decision-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration

	// MaxRetries counts retries after the first attempt; <= 0 means 2.
	MaxRetries int

	// RetryBase seeds the backoff between attempts; <= 0 means 500ms.
	RetryBase time.Duration

	// RatePerSec and Burst seed the per-host pacer.
	RatePerSec float64
	Burst      int
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.UserAgent == "" {
		o.UserAgent = "decision-cli/1.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 2
	}
	if o.Burst <= 0 {
		o.Burst = 2
	}
	return o
}

// Pacer growth and shrink factors. A clean response nudges the rate up a
// fifth, a 429 halves it.
const (
	easeFactor     = 1.2
	throttleFactor = 0.5
)

// hostPacer is a self-tuning rate limiter for one feed host. It starts
// at the configured rate, creeps up to twice that while the host stays
// healthy, and halves down to a quarter of it when the host throttles.
type hostPacer struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	current rate.Limit
	ceiling rate.Limit
	floor   rate.Limit
}

func newHostPacer(seed rate.Limit, burst int) *hostPacer {
	return &hostPacer{
		limiter: rate.NewLimiter(seed, burst),
		current: seed,
		ceiling: seed * 2,
		floor:   seed / 4,
	}
}

// Pace blocks until the next request may go out.
func (p *hostPacer) Pace(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Ease raises the rate after a clean response.
func (p *hostPacer) Ease() {
	p.retune(easeFactor)
}

// Throttle cuts the rate after a 429.
func (p *hostPacer) Throttle() {
	next := p.retune(throttleFactor)
	zap.L().Warn("fetcher: host throttled, reducing rate",
		zap.Float64("rate_per_sec", float64(next)),
	)
}

// Current returns the rate the pacer is running at.
func (p *hostPacer) Current() rate.Limit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *hostPacer) retune(factor float64) rate.Limit {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.current * rate.Limit(factor)
	if next > p.ceiling {
		next = p.ceiling
	}
	if next < p.floor {
		next = p.floor
	}
	p.current = next
	p.limiter.SetLimit(next)
	return next
}

// HTTPFetcher downloads feed files over HTTP with per-host pacing and
// transient-failure retries. Each host gets its own pacer on first
// contact, so a throttling provider only slows itself down.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu     sync.Mutex
	pacers map[string]*hostPacer
}

// NewHTTPFetcher builds an HTTP fetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	opts = opts.withDefaults()
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:   opts,
		pacers: make(map[string]*hostPacer),
	}
}

func (f *HTTPFetcher) pacerFor(host string) *hostPacer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pacers[host]; ok {
		return p
	}
	p := newHostPacer(rate.Limit(f.opts.RatePerSec), f.opts.Burst)
	f.pacers[host] = p
	return p
}

// fetch paces, sends and classifies one request per attempt, letting the
// shared retry policy drive the backoff between attempts.
func (f *HTTPFetcher) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	pacer := f.pacerFor(req.URL.Host)

	retry := resilience.FromRetrySettings(f.opts.MaxRetries)
	retry.BaseDelay = f.opts.RetryBase
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("fetcher: retrying request",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	var resp *http.Response
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		if err := pacer.Pace(ctx); err != nil {
			return eris.Wrap(err, "fetcher: rate limiter wait")
		}

		r, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			// Transport failures are always worth another attempt.
			return resilience.NewTransientError(eris.Wrapf(err, "fetcher: get %s", rawURL), 0)
		}

		switch {
		case r.StatusCode == http.StatusTooManyRequests:
			_ = r.Body.Close()
			pacer.Throttle()
			return resilience.NewRateLimitedError(eris.Errorf("fetcher: http 429 from %s", rawURL))
		case resilience.IsTransientHTTPStatus(r.StatusCode):
			_ = r.Body.Close()
			return resilience.NewTransientError(
				eris.Errorf("fetcher: http %d from %s", r.StatusCode, rawURL), r.StatusCode)
		case r.StatusCode != http.StatusOK:
			_ = r.Body.Close()
			return eris.Errorf("fetcher: unexpected status %d from %s", r.StatusCode, rawURL)
		}

		pacer.Ease()
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into a local file.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return saveTo(path, body)
}
