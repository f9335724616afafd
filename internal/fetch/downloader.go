// Package fetch downloads upstream CSV files with retry, backoff and the
// archive-ZIP fallback used when a dated direct file has rolled off.
package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/gridfeed/gridfeed/internal/registry"
)

// NotFoundError means no retryable path remained for the requested file.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}

// TransientError means retries were exhausted against a flapping upstream.
type TransientError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure after %d attempts: %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DecodeError means the archive payload was unusable (missing member, corrupt ZIP).
type DecodeError struct {
	URL    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed: %s: %s", e.URL, e.Reason)
}

// Config tunes the downloader's retry and pacing behavior.
type Config struct {
	UserAgent      string        `yaml:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`     // attempts for conn errors / 5xx / timeouts
	ThrottleRetry  int           `yaml:"throttle_retries"` // additional attempts after a 429
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	JitterFraction float64       `yaml:"jitter_fraction"` // <=0.30
	HostRPS        float64       `yaml:"host_rps"`
	HostBurst      int           `yaml:"host_burst"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// DefaultConfig returns the polite production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "gridfeed/1.0 (+https://github.com/gridfeed/gridfeed)",
		RequestTimeout: 30 * time.Second,
		MaxAttempts:    3,
		ThrottleRetry:  4,
		BackoffBase:    time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.30,
		HostRPS:        4.0,
		HostBurst:      2,
		MaxBodyBytes:   64 << 20,
	}
}

// Downloader performs HTTP GETs against the operator's clearinghouse.
type Downloader struct {
	client  *http.Client
	config  Config
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Downloader with the given configuration.
func New(config Config) *Downloader {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		// Dated files routinely roll off to the monthly archive, so a 404
		// is an answer, not an upstream failure; only 5xx and network
		// errors may trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var nf *NotFoundError
			return errors.As(err, &nf)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit state changed")
		},
	})

	return &Downloader{
		client:   &http.Client{Timeout: config.RequestTimeout},
		config:   config,
		breaker:  breaker,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the per-host token bucket, creating it on first use.
func (d *Downloader) limiter(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lim, ok := d.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(d.config.HostRPS), d.config.HostBurst)
	d.limiters[host] = lim
	return lim
}

// Fetch downloads one URL, retrying connection errors, 5xx responses and read
// timeouts with exponential backoff. 404 and non-throttle 4xx are terminal.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	var lastErr error
	attempts := 0
	throttleRetries := 0

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		attempts++

		if err := d.limiter(parsed.Host).Wait(ctx); err != nil {
			return nil, err
		}

		body, err := d.once(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}
		if !isRetryable(err) {
			return nil, err
		}

		// A 429 gets its own budget on top of the normal attempts and
		// honors the server's Retry-After when present.
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusTooManyRequests {
			if throttleRetries >= d.config.ThrottleRetry {
				break // throttle budget exhausted
			}
			throttleRetries++
			attempt-- // throttling does not consume a regular attempt
			log.Debug().Str("url", rawURL).Dur("retry_after", se.retryAfter).Msg("throttled, backing off")
			if err := sleepCtx(ctx, se.retryAfter); err != nil {
				return nil, err
			}
			continue
		}

		if attempt == d.config.MaxAttempts {
			break
		}

		backoff := d.backoff(attempt)
		log.Debug().
			Str("url", rawURL).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("retrying download")
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}

	return nil, &TransientError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// once performs a single GET through the circuit breaker.
func (d *Downloader) once(ctx context.Context, rawURL string) ([]byte, error) {
	result, err := d.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", d.config.UserAgent)
		req.Header.Set("Accept", "text/csv, application/zip, */*")

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(io.LimitReader(resp.Body, d.config.MaxBodyBytes))
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, &NotFoundError{URL: rawURL}
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &statusError{
				code:       resp.StatusCode,
				url:        rawURL,
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), d.config.BackoffBase),
			}
		default:
			return nil, &statusError{code: resp.StatusCode, url: rawURL}
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("upstream circuit open: %w", err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

// FetchOrArchive downloads the source's file for date, falling back to the
// monthly archive ZIP when the direct URL 404s. It returns the bytes and the
// URL that actually served them.
func (d *Downloader) FetchOrArchive(ctx context.Context, src *registry.Source, date time.Time) ([]byte, string, error) {
	directURL, archiveURL := src.Resolve(date)

	body, err := d.Fetch(ctx, directURL)
	if err == nil {
		return body, directURL, nil
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) || archiveURL == "" {
		return nil, "", err
	}

	log.Info().
		Str("source", src.Code).
		Str("direct_url", directURL).
		Str("archive_url", archiveURL).
		Msg("direct file missing, trying archive")

	archive, err := d.Fetch(ctx, archiveURL)
	if err != nil {
		return nil, "", err
	}

	member, err := extractMember(archiveURL, archive, date.Format("20060102"), src.FilenameStem)
	if err != nil {
		return nil, "", err
	}
	return member, archiveURL, nil
}

// extractMember opens a ZIP archive and returns the member whose filename
// contains the compact date, or failing that the source's filename stem.
func extractMember(archiveURL string, data []byte, compactDate, stem string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &DecodeError{URL: archiveURL, Reason: fmt.Sprintf("not a zip archive: %v", err)}
	}

	pick := func(substr string) *zip.File {
		for _, f := range zr.File {
			if strings.Contains(f.Name, substr) {
				return f
			}
		}
		return nil
	}

	member := pick(compactDate)
	if member == nil {
		member = pick(stem)
	}
	if member == nil {
		return nil, &DecodeError{URL: archiveURL, Reason: fmt.Sprintf("no member matching %q or %q", compactDate, stem)}
	}

	rc, err := member.Open()
	if err != nil {
		return nil, &DecodeError{URL: archiveURL, Reason: fmt.Sprintf("member %s: %v", member.Name, err)}
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, &DecodeError{URL: archiveURL, Reason: fmt.Sprintf("member %s: %v", member.Name, err)}
	}
	return body, nil
}

// backoff computes the exponential delay for the given attempt with jitter.
func (d *Downloader) backoff(attempt int) time.Duration {
	delay := float64(d.config.BackoffBase)
	for i := 1; i < attempt; i++ {
		delay *= d.config.BackoffFactor
	}
	jitter := 1 + (rand.Float64()*2-1)*d.config.JitterFraction
	return time.Duration(delay * jitter)
}

// statusError is an unexpected HTTP status. retryAfter is set on 429 from the
// Retry-After header (or the backoff base when the header is absent).
type statusError struct {
	code       int
	url        string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.url)
}

// isRetryable classifies errors per the retry policy table: connection errors,
// timeouts, 5xx, 408 and 429 retry; everything else is terminal.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code >= 500:
			return true
		case se.code == http.StatusRequestTimeout, se.code == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// http.Client timeouts surface as *url.Error wrapping a timeout.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// parseRetryAfter interprets a Retry-After header as seconds or HTTP date.
func parseRetryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
