// Package downloader fetches bottle archives over HTTP into the blob
// cache, verifying each one's SHA-256 while it streams, and exposes a
// bounded-concurrency batch fetch for an install plan's archive set.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/internal/zblog"
	"github.com/zerobrew/zb/pkg/blobcache"
	"github.com/zerobrew/zb/pkg/metrics"
)

// Downloader streams bottle archives into a blob cache, skipping anything
// already cached by digest.
type Downloader struct {
	client      *http.Client
	cache       *blobcache.Cache
	concurrency int
	limiter     *rate.Limiter // nil means unlimited
	bearerToken string
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithConcurrency bounds the number of in-flight downloads in FetchAll.
func WithConcurrency(n int) Option {
	return func(d *Downloader) { d.concurrency = n }
}

// WithRateLimit applies a token-bucket limiter across all downloads, useful
// when talking to a registry with a request-rate quota.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(d *Downloader) { d.limiter = rate.NewLimiter(limit, burst) }
}

// WithBearerToken attaches an Authorization header to every request, for
// registries that gate bottle downloads behind a token.
func WithBearerToken(token string) Option {
	return func(d *Downloader) { d.bearerToken = token }
}

// WithHTTPClient overrides the default *http.Client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// New creates a Downloader backed by cache.
func New(cache *blobcache.Cache, opts ...Option) *Downloader {
	d := &Downloader{
		client:      &http.Client{Timeout: 5 * time.Minute},
		cache:       cache,
		concurrency: 6,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Request identifies a single archive to fetch.
type Request struct {
	URL    string
	SHA256 string
}

// Download fetches url into the blob cache if a blob matching sha256 isn't
// already present, verifying the digest as bytes arrive. A checksum
// mismatch discards the partial write and returns a ChecksumMismatch error;
// the caller never sees a half-written blob.
func (d *Downloader) Download(ctx context.Context, url, sha256Hex string) (string, error) {
	if d.cache.HasBlob(sha256Hex) {
		return d.cache.BlobPath(sha256Hex), nil
	}

	log := zblog.WithComponent("downloader").With().Str("sha256", sha256Hex).Logger()

	metrics.DownloadsInFlight.Inc()
	defer metrics.DownloadsInFlight.Dec()
	timer := metrics.NewTimer()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			metrics.DownloadFailuresTotal.WithLabelValues("rate_limit").Inc()
			return "", zberr.NewNetworkFailure("rate limiter wait", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.DownloadFailuresTotal.WithLabelValues("request").Inc()
		return "", zberr.NewNetworkFailure("building request", err)
	}
	if d.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.bearerToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.DownloadFailuresTotal.WithLabelValues("network").Inc()
		return "", zberr.NewNetworkFailure(err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.DownloadFailuresTotal.WithLabelValues("http_status").Inc()
		return "", zberr.NewNetworkFailure(fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	writer, err := d.cache.StartWrite(sha256Hex)
	if err != nil {
		metrics.DownloadFailuresTotal.WithLabelValues("blob_writer").Inc()
		return "", zberr.NewNetworkFailure("creating blob writer", err)
	}
	defer writer.Abort()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(writer, hasher), resp.Body)
	if err != nil {
		metrics.DownloadFailuresTotal.WithLabelValues("read_body").Inc()
		return "", zberr.NewNetworkFailure("reading response body", err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != sha256Hex {
		log.Warn().Str("actual_sha256", actual).Msg("checksum mismatch, discarding download")
		metrics.DownloadFailuresTotal.WithLabelValues("checksum_mismatch").Inc()
		return "", zberr.NewChecksumMismatch(sha256Hex, actual)
	}

	metrics.DownloadBytesTotal.Add(float64(written))
	timer.ObserveDuration(metrics.DownloadDuration)

	return writer.Commit()
}

// Result pairs a Request with its download outcome. Index identifies the
// request's position in the slice FetchAll was given, since results arrive
// in completion order rather than request order.
type Result struct {
	Index   int
	Request Request
	Path    string
	Err     error
}

// FetchAll downloads every request concurrently, bounded by the
// Downloader's configured concurrency, and streams one Result per request
// on the returned channel as each download finishes — in completion order,
// not the order of reqs. The channel is closed once every request has been
// accounted for. FetchAll itself never returns an error; check each
// Result.Err.
func (d *Downloader) FetchAll(ctx context.Context, reqs []Request) <-chan Result {
	out := make(chan Result, len(reqs))

	go func() {
		defer close(out)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.concurrency)

		for i, req := range reqs {
			i, req := i, req
			g.Go(func() error {
				path, err := d.Download(gctx, req.URL, req.SHA256)
				out <- Result{Index: i, Request: req, Path: path, Err: err}
				return nil // collect per-item errors, don't abort the batch
			})
		}
		_ = g.Wait()
	}()

	return out
}
