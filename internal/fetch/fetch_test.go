package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickhere/proxy-machine-sub001/internal/adapter"
	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/fetch"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/mocks"
	"github.com/patrickhere/proxy-machine-sub001/internal/retry"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

func newOrchestrator(cfg fetch.Config, maxRetries int) *fetch.Orchestrator {
	return fetch.NewOrchestrator(
		adapter.NewHTTPClient(5*time.Second),
		adapter.NewFileSystem(),
		adapter.NewClock(),
		retry.NewPolicy(maxRetries, time.Millisecond, 5*time.Millisecond),
		cfg,
	)
}

func job(id, name, uri, dest string) domain.FetchJob {
	return domain.FetchJob{
		PrintID:         id,
		DisplayName:     name,
		SourceURI:       uri,
		DestinationPath: dest,
	}
}

func TestOrchestrator_Run_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	o := newOrchestrator(fetch.Config{Concurrency: 2}, 0)

	jobs := []domain.FetchJob{
		job("a", "Card A", server.URL+"/a.jpg", filepath.Join(dir, "cards", "a.jpg")),
		job("b", "Card B", server.URL+"/b.jpg", filepath.Join(dir, "cards", "b.jpg")),
	}

	summary, err := o.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalRequested)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, int64(2*len("image-bytes")), summary.TotalBytes)
	assert.NotEmpty(t, summary.BatchID)

	for _, j := range jobs {
		data, err := os.ReadFile(j.DestinationPath)
		require.NoError(t, err)
		assert.Equal(t, "image-bytes", string(data))
	}
}

func TestOrchestrator_Run_RetryBound(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	maxRetries := 3
	o := newOrchestrator(fetch.Config{Concurrency: 1}, maxRetries)

	summary, err := o.Run(context.Background(), []domain.FetchJob{
		job("a", "Card A", server.URL+"/a.jpg", filepath.Join(dir, "a.jpg")),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	// Exactly 1 + max_retries attempts, never more
	assert.Equal(t, int64(1+maxRetries), hits.Load())
	require.Len(t, summary.FailedJobs, 1)
	assert.Equal(t, 1+maxRetries, summary.FailedJobs[0].Retries)
}

func TestOrchestrator_Run_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	o := newOrchestrator(fetch.Config{Concurrency: 1}, 5)

	summary, err := o.Run(context.Background(), []domain.FetchJob{
		job("a", "Card A", server.URL+"/gone.jpg", filepath.Join(dir, "gone.jpg")),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	// A 404 is not retried
	assert.Equal(t, int64(1), hits.Load())
}

func TestOrchestrator_Run_RetryAfterTransientFailure(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer server.Close()

	dir := t.TempDir()
	o := newOrchestrator(fetch.Config{Concurrency: 1}, 5)

	summary, err := o.Run(context.Background(), []domain.FetchJob{
		job("a", "Card A", server.URL+"/a.jpg", filepath.Join(dir, "a.jpg")),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, int64(3), hits.Load())
}

func TestOrchestrator_Run_FailuresAreIndependent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	o := newOrchestrator(fetch.Config{Concurrency: 4}, 0)

	jobs := []domain.FetchJob{
		job("a", "Good A", server.URL+"/a.jpg", filepath.Join(dir, "a.jpg")),
		job("b", "Bad B", server.URL+"/bad-b.jpg", filepath.Join(dir, "b.jpg")),
		job("c", "Good C", server.URL+"/c.jpg", filepath.Join(dir, "c.jpg")),
		job("d", "Bad D", "not a uri", filepath.Join(dir, "d.jpg")),
	}

	summary, err := o.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, summary.TotalRequested, summary.Successful+summary.Failed+summary.Skipped)

	assert.FileExists(t, filepath.Join(dir, "a.jpg"))
	assert.FileExists(t, filepath.Join(dir, "c.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "b.jpg"))
}

func TestOrchestrator_Run_SkipExisting(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer server.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.jpg")
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0o644))

	o := newOrchestrator(fetch.Config{Concurrency: 1, SkipExisting: true}, 0)

	jobs := []domain.FetchJob{
		job("a", "Existing", server.URL+"/existing.jpg", existing),
		job("b", "New", server.URL+"/new.jpg", filepath.Join(dir, "new.jpg")),
	}

	summary, err := o.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, int64(1), hits.Load())

	// The existing file was never touched
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	// A second run skips everything
	summary, err = o.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Successful)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, int64(1), hits.Load())
}

func TestOrchestrator_Run_DuplicateDestinationsRejected(t *testing.T) {
	dir := t.TempDir()
	o := newOrchestrator(fetch.Config{Concurrency: 1}, 0)

	dest := filepath.Join(dir, "same.jpg")
	_, err := o.Run(context.Background(), []domain.FetchJob{
		job("a", "Card A", "https://img.example.com/a.jpg", dest),
		job("b", "Card B", "https://img.example.com/b.jpg", dest),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateDestination)
}

func TestOrchestrator_Run_NoPartialFileOnFailure(t *testing.T) {
	// The server drops the connection mid-body
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	o := newOrchestrator(fetch.Config{Concurrency: 1}, 1)

	dest := filepath.Join(dir, "truncated.jpg")
	summary, err := o.Run(context.Background(), []domain.FetchJob{
		job("a", "Card A", server.URL+"/a.jpg", dest),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	// Neither the final path nor any temp file survives
	assert.NoFileExists(t, dest)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOrchestrator_Run_CanceledBatchConservesCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	o := newOrchestrator(fetch.Config{Concurrency: 1}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := []domain.FetchJob{
		job("a", "Card A", server.URL+"/a.jpg", filepath.Join(dir, "a.jpg")),
		job("b", "Card B", server.URL+"/b.jpg", filepath.Join(dir, "b.jpg")),
		job("c", "Card C", server.URL+"/c.jpg", filepath.Join(dir, "c.jpg")),
	}

	summary, err := o.Run(ctx, jobs)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalRequested)
	assert.Equal(t, summary.TotalRequested, summary.Successful+summary.Failed+summary.Skipped)
	assert.Equal(t, 3, summary.Failed)
}

func TestOrchestrator_Run_EmptyBatch(t *testing.T) {
	o := newOrchestrator(fetch.Config{Concurrency: 1}, 0)

	summary, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalRequested)
	assert.Equal(t, 0, summary.Successful+summary.Failed+summary.Skipped)
	assert.NotEmpty(t, summary.BatchID)
}

func TestOrchestrator_Run_BatchIDsAreUnique(t *testing.T) {
	o := newOrchestrator(fetch.Config{Concurrency: 1}, 0)

	first, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.BatchID, second.BatchID)
}

// fakeFile is an in-memory adapter.File for mock-driven tests
type fakeFile struct {
	bytes.Buffer
	name string
}

func (f *fakeFile) Close() error { return nil }

func (f *fakeFile) Name() string { return f.name }

func TestOrchestrator_Run_MkdirFailureSkipsDownload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockHTTP := mocks.NewMockHTTPClient(ctrl)
	mockFS := mocks.NewMockFileSystem(ctrl)

	// The destination directory cannot be created; no request is issued
	mockFS.
		EXPECT().
		MkdirAll("out/cards").
		Return(errors.New("read-only filesystem"))

	o := fetch.NewOrchestrator(mockHTTP, mockFS, adapter.NewClock(),
		retry.NewPolicy(3, time.Millisecond, 5*time.Millisecond),
		fetch.Config{Concurrency: 1})

	summary, err := o.Run(context.Background(), []domain.FetchJob{
		job("a", "Card A", "https://img.example.com/a.jpg", "out/cards/a.jpg"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Successful)
}

func TestOrchestrator_Run_RenameFailureCleansUpTemp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockHTTP := mocks.NewMockHTTPClient(ctrl)
	mockFS := mocks.NewMockFileSystem(ctrl)

	tmp := &fakeFile{name: "out/cards/.fetch-123"}

	mockHTTP.
		EXPECT().
		GetResponse(gomock.Any(), "https://img.example.com/a.jpg", gomock.Nil()).
		Return(&http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("image-bytes")),
		}, nil)
	mockFS.EXPECT().MkdirAll("out/cards").Return(nil)
	mockFS.EXPECT().CreateTemp("out/cards", ".fetch-*").Return(tmp, nil)
	mockFS.
		EXPECT().
		Rename(tmp.Name(), "out/cards/a.jpg").
		Return(errors.New("cross-device link"))
	// The orphaned temp file is removed, and the failure is permanent so
	// nothing is retried
	mockFS.EXPECT().Remove(tmp.Name()).Return(nil)

	o := fetch.NewOrchestrator(mockHTTP, mockFS, adapter.NewClock(),
		retry.NewPolicy(3, time.Millisecond, 5*time.Millisecond),
		fetch.Config{Concurrency: 1})

	summary, err := o.Run(context.Background(), []domain.FetchJob{
		job("a", "Card A", "https://img.example.com/a.jpg", "out/cards/a.jpg"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "image-bytes", tmp.String())
}

func TestPlan(t *testing.T) {
	prints := []*schema.Print{
		{
			ID:              "11111111-1111-4111-8111-111111111111",
			Name:            "Lightning Bolt",
			NameSlug:        "lightning-bolt",
			SetCode:         "m10",
			CollectorNumber: "146",
			Lang:            "en",
			TypeLine:        "Instant",
			ImageURL:        "https://img.example.com/bolt.jpg",
		},
		{
			// No image reference: dropped with a warning, not an error
			ID:       "22222222-2222-4222-8222-222222222222",
			Name:     "Imageless",
			NameSlug: "imageless",
		},
	}

	jobs, err := fetch.Plan("out", prints)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", jobs[0].PrintID)
	assert.Equal(t, "out/cards/lightning-bolt-m10-146.jpg", jobs[0].DestinationPath)
	assert.Equal(t, "https://img.example.com/bolt.jpg", jobs[0].SourceURI)
}

func TestPlan_DuplicateDestinations(t *testing.T) {
	same := &schema.Print{
		ID:              "11111111-1111-4111-8111-111111111111",
		Name:            "Lightning Bolt",
		NameSlug:        "lightning-bolt",
		SetCode:         "m10",
		CollectorNumber: "146",
		Lang:            "en",
		TypeLine:        "Instant",
		ImageURL:        "https://img.example.com/bolt.jpg",
	}
	clone := *same
	clone.ID = "22222222-2222-4222-8222-222222222222"

	_, err := fetch.Plan("out", []*schema.Print{same, &clone})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateDestination)
}
