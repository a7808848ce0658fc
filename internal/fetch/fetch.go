package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/patrickhere/proxy-machine-sub001/internal/adapter"
	"github.com/patrickhere/proxy-machine-sub001/internal/classify"
	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/retry"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

// Config holds fetch orchestrator settings
type Config struct {
	// Concurrency is the worker pool size
	Concurrency int
	// SkipExisting treats an already-present destination as satisfied
	SkipExisting bool
	// RequestsPerSecond limits load on the image source (0 = unlimited)
	RequestsPerSecond float64
}

// Orchestrator executes fetch batches against the remote image source with
// bounded concurrency, shared retry policy and atomic writes
type Orchestrator struct {
	httpClient adapter.HTTPClient
	fs         adapter.FileSystem
	clock      adapter.Clock
	policy     retry.Policy
	limiter    *rate.Limiter
	config     Config
}

// NewOrchestrator creates a fetch orchestrator
func NewOrchestrator(
	httpClient adapter.HTTPClient,
	fs adapter.FileSystem,
	clock adapter.Clock,
	policy retry.Policy,
	cfg Config,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Orchestrator{
		httpClient: httpClient,
		fs:         fs,
		clock:      clock,
		policy:     policy,
		limiter:    limiter,
		config:     cfg,
	}
}

// Plan turns resolved prints into fetch jobs, routing each through the
// classifier for its destination path. Prints without an image reference are
// dropped with a warning. Duplicate destinations are a validation error, not
// a runtime race.
func Plan(outputRoot string, prints []*schema.Print) ([]domain.FetchJob, error) {
	jobs := make([]domain.FetchJob, 0, len(prints))
	destinations := make(map[string]string, len(prints))

	for _, p := range prints {
		if p.ImageURL == "" {
			logger.Warn("print has no image reference, skipping",
				zap.String("print_id", p.ID),
				zap.String("name", p.Name),
			)
			continue
		}

		dest := classify.DestinationFor(outputRoot, p)
		logger.Debug("planned destination",
			zap.String("print_id", p.ID),
			zap.String("classification", classify.Describe(p)),
			zap.String("destination", dest),
		)
		if prior, ok := destinations[dest]; ok {
			return nil, fmt.Errorf("%w: %s claimed by prints %s and %s",
				domain.ErrDuplicateDestination, dest, prior, p.ID)
		}
		destinations[dest] = p.ID

		jobs = append(jobs, domain.FetchJob{
			PrintID:         p.ID,
			DisplayName:     p.Name,
			SourceURI:       p.ImageURL,
			DestinationPath: dest,
		})
	}

	return jobs, nil
}

// Run executes a job batch. Jobs run on a fixed-size worker pool; one job's
// failure never blocks or cancels its siblings. Cancellation via ctx stops
// scheduling new jobs while letting in-flight jobs finish or time out; jobs
// never scheduled are reported failed with the canceled class so counts
// still conserve. Re-running with skip-existing enabled is idempotent.
func (o *Orchestrator) Run(ctx context.Context, jobs []domain.FetchJob) (*domain.FetchSummary, error) {
	if err := validateDestinations(jobs); err != nil {
		return nil, err
	}

	summary := &domain.FetchSummary{
		BatchID:        ulid.Make().String(),
		TotalRequested: len(jobs),
	}
	start := o.clock.Now()

	logger.Info("starting fetch batch",
		zap.String("batch_id", summary.BatchID),
		zap.Int("jobs", len(jobs)),
		zap.Int("concurrency", o.config.Concurrency),
		zap.Bool("skip_existing", o.config.SkipExisting),
	)

	var successful, failed, skipped atomic.Int64
	var totalBytes atomic.Int64
	var mu sync.Mutex
	var failedJobs []domain.FetchJob

	pool := pond.NewPool(o.config.Concurrency, pond.WithQueueSize(len(jobs)))

	for _, job := range jobs {
		// Cooperative cancellation: stop scheduling, account for the rest
		if ctx.Err() != nil {
			failed.Add(1)
			mu.Lock()
			failedJobs = append(failedJobs, job)
			mu.Unlock()
			continue
		}

		if o.config.SkipExisting && o.fs.Exists(job.DestinationPath) {
			logger.Debug("destination exists, skipping",
				zap.String("path", job.DestinationPath))
			skipped.Add(1)
			continue
		}

		pool.Submit(func() {
			result := o.fetchJob(ctx, job)
			switch {
			case result.Success:
				successful.Add(1)
				totalBytes.Add(result.Bytes)
			default:
				failed.Add(1)
				retried := result.Job
				retried.Retries += result.Attempts
				mu.Lock()
				failedJobs = append(failedJobs, retried)
				mu.Unlock()
				logger.Warn("fetch job failed",
					zap.String("print_id", result.Job.PrintID),
					zap.String("name", result.Job.DisplayName),
					zap.Int("attempts", result.Attempts),
					zap.String("error_class", string(result.ErrorClass)),
					zap.Error(result.Err),
				)
			}
		})
	}

	pool.StopAndWait()

	summary.Successful = int(successful.Load())
	summary.Failed = int(failed.Load())
	summary.Skipped = int(skipped.Load())
	summary.TotalBytes = totalBytes.Load()
	summary.Elapsed = o.clock.Since(start)
	summary.FailedJobs = failedJobs

	logger.Info("fetch batch complete",
		zap.String("batch_id", summary.BatchID),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("bytes", summary.TotalBytes),
		zap.Duration("elapsed", summary.Elapsed),
	)

	return summary, nil
}

// validateDestinations enforces the unique-destination invariant up front so
// no path-level locking is needed at runtime
func validateDestinations(jobs []domain.FetchJob) error {
	seen := make(map[string]string, len(jobs))
	for _, job := range jobs {
		if prior, ok := seen[job.DestinationPath]; ok {
			return fmt.Errorf("%w: %s claimed by prints %s and %s",
				domain.ErrDuplicateDestination, job.DestinationPath, prior, job.PrintID)
		}
		seen[job.DestinationPath] = job.PrintID
	}
	return nil
}

// fetchJob runs one download to its terminal result: bounded-timeout GET
// with retry/backoff, then an atomic temp-write-and-rename so no partial
// file is ever visible at the final path
func (o *Orchestrator) fetchJob(ctx context.Context, job domain.FetchJob) domain.FetchResult {
	result := domain.FetchResult{Job: job}
	start := o.clock.Now()
	defer func() {
		result.Elapsed = o.clock.Since(start)
	}()

	parsed, err := url.Parse(job.SourceURI)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		result.ErrorClass = domain.ErrorClassBadURI
		result.Err = fmt.Errorf("malformed source uri %q", job.SourceURI)
		return result
	}

	if err := o.fs.MkdirAll(filepath.Dir(job.DestinationPath)); err != nil {
		result.ErrorClass = domain.ErrorClassFilesystem
		result.Err = fmt.Errorf("failed to create destination directory: %w", err)
		return result
	}

	var written int64
	attempts, err := o.policy.Do(ctx, func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		n, err := o.download(ctx, job)
		if err != nil {
			return err
		}
		written = n
		return nil
	})

	result.Attempts = attempts
	if err != nil {
		result.ErrorClass = classifyError(err)
		result.Err = err
		return result
	}

	result.Success = true
	result.Bytes = written
	logger.Debug("fetched image",
		zap.String("name", job.DisplayName),
		zap.String("path", job.DestinationPath),
		zap.Int64("bytes", written),
		zap.Int("attempts", attempts),
	)
	return result
}

// download performs a single attempt: GET the source, stream into a
// temporary sibling file, then rename into place. Returns a permanent error
// for conditions retrying cannot fix.
func (o *Orchestrator) download(ctx context.Context, job domain.FetchJob) (int64, error) {
	resp, err := o.httpClient.GetResponse(ctx, job.SourceURI, nil)
	if err != nil {
		if ctx.Err() != nil {
			return 0, retry.Permanent(err)
		}
		// Network errors (timeouts, resets) are retryable
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body",
				zap.Error(err), zap.String("url", job.SourceURI))
		}
	}()

	if resp.StatusCode != 200 {
		err := fmt.Errorf("unexpected status code %d", resp.StatusCode)
		if retry.RetryableStatus(resp.StatusCode) {
			return 0, err
		}
		return 0, retry.Permanent(err)
	}

	// Temp file lives beside the destination so the rename stays on one
	// filesystem and is atomic
	tmp, err := o.fs.CreateTemp(filepath.Dir(job.DestinationPath), ".fetch-*")
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("failed to create temp file: %w", err))
	}

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if removeErr := o.fs.Remove(tmp.Name()); removeErr != nil {
			logger.Warn("failed to remove temp file",
				zap.Error(removeErr), zap.String("path", tmp.Name()))
		}
		if ctx.Err() != nil {
			return 0, retry.Permanent(err)
		}
		return 0, fmt.Errorf("failed to write download: %w", err)
	}

	if err := o.fs.Rename(tmp.Name(), job.DestinationPath); err != nil {
		if removeErr := o.fs.Remove(tmp.Name()); removeErr != nil {
			logger.Warn("failed to remove temp file",
				zap.Error(removeErr), zap.String("path", tmp.Name()))
		}
		return 0, retry.Permanent(fmt.Errorf("failed to finalize download: %w", err))
	}

	return written, nil
}

// classifyError buckets a terminal fetch error for the summary
func classifyError(err error) domain.ErrorClass {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorClassTimeout
	case errors.Is(err, context.Canceled):
		return domain.ErrorClassCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrorClassTimeout
		}
		return domain.ErrorClassConnection
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ErrorClassConnection
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unexpected status code"):
		return domain.ErrorClassHTTP
	case strings.Contains(msg, "temp file"), strings.Contains(msg, "finalize"),
		strings.Contains(msg, "destination directory"):
		return domain.ErrorClassFilesystem
	}

	return domain.ErrorClassConnection
}
