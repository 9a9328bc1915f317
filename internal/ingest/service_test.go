package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/extract"
	"github.com/joseph-ayodele/evidence-pipeline/internal/queue"
	"github.com/joseph-ayodele/evidence-pipeline/internal/repository"
	"github.com/joseph-ayodele/evidence-pipeline/internal/security"
	"github.com/joseph-ayodele/evidence-pipeline/internal/storage"
	"github.com/joseph-ayodele/evidence-pipeline/internal/transform"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingExtractor records how often extraction ran.
type countingExtractor struct {
	Extractor
	calls atomic.Int32
}

func (c *countingExtractor) ProcessFile(ctx context.Context, data []byte, filename, mimeType string, source constants.EvidenceSource, opts extract.ProcessOptions) (*entity.Evidence, error) {
	c.calls.Add(1)
	return c.Extractor.ProcessFile(ctx, data, filename, mimeType, source, opts)
}

type harness struct {
	svc       *Service
	repo      repository.EvidenceRepository
	blobs     *storage.Optimizer
	local     *storage.LocalStorage
	extractor *countingExtractor
	clock     *testClock
}

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	repo := repository.NewEvidenceRepository(db, nil)

	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	blobs, err := storage.NewOptimizer(local, repo, storage.OptimizerConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(blobs.Close)

	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	ext := &countingExtractor{Extractor: extract.NewService(extract.Config{}, nil, nil)}

	cfg := Config{Now: clock.Now}
	deps := Deps{
		Scanner:     security.NewScanner(security.Config{}, nil),
		Extractor:   ext,
		Transformer: transform.NewService(transform.Config{}, nil),
		Repo:        repo,
		Blobs:       blobs,
		Fetcher:     extract.NewHTTPFetcher(extract.FetcherConfig{Timeout: 5 * time.Second}, nil),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return &harness{
		svc:       NewService(cfg, deps, nil),
		repo:      repo,
		blobs:     blobs,
		local:     local,
		extractor: ext,
		clock:     clock,
	}
}

const amountsCSV = "name,amount\nA,100\nB,200"

func TestUpload_CSV(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	ev, err := h.svc.Upload(ctx, []byte(amountsCSV), "amounts.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)

	assert.Equal(t, constants.CSV, ev.Type)
	assert.Equal(t, constants.SourceUpload, ev.Source)
	assert.Equal(t, constants.StatusCompleted, ev.Status)
	require.Len(t, ev.Content.Tables, 1)
	tbl := ev.Content.Tables[0]
	assert.Equal(t, []string{"name", "amount"}, tbl.Headers)
	assert.Equal(t, [][]entity.Cell{
		{entity.StringCell("A"), entity.NumberCell(100)},
		{entity.StringCell("B"), entity.NumberCell(200)},
	}, tbl.Rows)

	require.NotNil(t, ev.Metadata.SecurityScan)
	assert.True(t, ev.Metadata.SecurityScan.IsSafe)
	assert.Equal(t, storage.KeyFor([]byte(amountsCSV)), ev.Metadata.StorageKey)

	stored, err := h.repo.Find(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows, stored.Content.Tables[0].Rows)

	raw, err := h.blobs.Load(ctx, stored.Metadata.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, amountsCSV, string(raw))
}

func TestUpload_SignatureMismatchRejectedBeforeExtraction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.svc.Upload(ctx, []byte("this is not a pdf at all"), "report.pdf", "application/pdf", UploadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSecurityRejected)

	var rej *common.SecurityRejection
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Violations, "file-signature-mismatch")
	assert.Zero(t, h.extractor.calls.Load(), "extraction must not run")

	_, total, err := h.repo.List(ctx, repository.Filter{IncludeDeleted: true}, repository.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestUpload_ExtractionFailurePersistsFailedRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	xlsx := "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	_, err := h.svc.Upload(ctx, []byte("PK\x03\x04 definitely not a workbook"), "broken.xlsx", xlsx, UploadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrExtraction)

	list, total, err := h.repo.List(ctx, repository.Filter{Status: constants.StatusFailed}, repository.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	failed := list[0]
	assert.Equal(t, constants.EXCEL, failed.Type)
	assert.Zero(t, failed.Size)
	assert.Zero(t, failed.Metadata.ProcessingTime)
	assert.NotEmpty(t, failed.Content.Error)
	assert.NotEmpty(t, failed.Metadata.Error)
	assert.NotEmpty(t, failed.Metadata.StorageKey, "raw bytes are retained for a later reprocess")
}

func TestUpload_ValidationErrorsPersistNothing(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		filename string
		mimeType string
	}{
		{"unknown type", "just some bytes", "notes.dat", "application/x-custom-format"},
		{"empty csv", ",\n , \n,,\n", "empty.csv", "text/csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, nil)

			_, err := h.svc.Upload(ctx, []byte(tt.data), tt.filename, tt.mimeType, UploadOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrValidation)
			assert.NotErrorIs(t, err, common.ErrExtraction)
			assert.Equal(t, int32(1), h.extractor.calls.Load())

			_, total, err := h.repo.List(ctx, repository.Filter{IncludeDeleted: true}, repository.Page{})
			require.NoError(t, err)
			assert.Zero(t, total)

			usage, err := h.blobs.Usage(ctx)
			require.NoError(t, err)
			assert.Zero(t, usage.Objects)
			_, err = h.blobs.Load(ctx, storage.KeyFor([]byte(tt.data)))
			assert.Error(t, err)
		})
	}
}

// flakyRepo fails Save while failSave is set.
type flakyRepo struct {
	repository.EvidenceRepository
	failSave atomic.Bool
}

func (r *flakyRepo) Save(ctx context.Context, ev *entity.Evidence) error {
	if r.failSave.Load() {
		return fmt.Errorf("save evidence: %w", common.ErrDatabase)
	}
	return r.EvidenceRepository.Save(ctx, ev)
}

func TestUpload_SaveFailureRemovesBlob(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyRepo
	h := newHarness(t, func(_ *Config, d *Deps) {
		flaky = &flakyRepo{EvidenceRepository: d.Repo}
		d.Repo = flaky
	})

	t.Run("fresh blob is deleted", func(t *testing.T) {
		flaky.failSave.Store(true)
		_, err := h.svc.Upload(ctx, []byte(amountsCSV), "amounts.csv", "text/csv", UploadOptions{})
		require.ErrorIs(t, err, common.ErrDatabase)

		usage, err := h.blobs.Usage(ctx)
		require.NoError(t, err)
		assert.Zero(t, usage.Objects)
	})

	t.Run("deduplicated blob is kept", func(t *testing.T) {
		flaky.failSave.Store(false)
		first, err := h.svc.Upload(ctx, []byte(amountsCSV), "amounts.csv", "text/csv", UploadOptions{})
		require.NoError(t, err)

		flaky.failSave.Store(true)
		_, err = h.svc.Upload(ctx, []byte(amountsCSV), "copy.csv", "text/csv", UploadOptions{})
		require.ErrorIs(t, err, common.ErrDatabase)

		raw, err := h.blobs.Load(ctx, first.Metadata.StorageKey)
		require.NoError(t, err)
		assert.Equal(t, amountsCSV, string(raw))
	})
}

func TestUpload_SniffsMIMEWhenUnknown(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		mimeType string
		want     string
	}{
		{"declared wins", []byte("a,b"), "x.csv", "text/plain", "text/plain"},
		{"extension fills generic", []byte("a,b"), "x.csv", "application/octet-stream", "text/csv"},
		{"extension fills empty", []byte("%PDF-1.4"), "x.pdf", "", "application/pdf"},
		{"content sniffed", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "upload.bin", "", "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, declaredMIME(tt.data, tt.filename, tt.mimeType))
		})
	}
}

const sampleHTML = `<!doctype html><html><head><title>Market Report</title></head>
<body><nav>menu</nav><h1>Market size</h1>
<table><tr><th>Year</th><th>Size</th></tr><tr><td>2023</td><td>1,200</td></tr><tr><td>2024</td><td>1,450</td></tr></table>
<img src="/img/chart.png" alt="chart"></body></html>`

func TestImportFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/reports/market":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, sampleHTML)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("ok", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness(t, nil)
		ev, err := h.svc.ImportFromURL(ctx, srv.URL+"/reports/market", UploadOptions{})
		require.NoError(t, err)
		assert.Equal(t, constants.URL, ev.Type)
		assert.Equal(t, constants.SourceURLFetch, ev.Source)
		assert.Equal(t, "market", ev.Filename)
		assert.Equal(t, srv.URL+"/reports/market", ev.Metadata.SourceURL)
		require.NotEmpty(t, ev.Content.Tables)
		require.NotEmpty(t, ev.Content.Images)
		assert.Equal(t, srv.URL+"/img/chart.png", ev.Content.Images[0].Src)
	})

	t.Run("404 is a request error and nothing is persisted", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness(t, nil)
		_, err := h.svc.ImportFromURL(ctx, srv.URL+"/missing", UploadOptions{})
		require.Error(t, err)
		var reqErr *common.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
		assert.Contains(t, err.Error(), "404")

		_, total, err := h.repo.List(ctx, repository.Filter{IncludeDeleted: true}, repository.Page{})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.svc.ImportFromURL(context.Background(), "ftp://example.com/a.csv", UploadOptions{})
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestFilenameFromURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/data/report.csv": "report.csv",
		"https://example.com/":                "example.com.html",
		"https://example.com":                 "example.com.html",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, filenameFromURL(in))
		})
	}
}

func TestReprocess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	ev, err := h.svc.Upload(ctx, []byte(amountsCSV), "amounts.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	again, err := h.svc.Reprocess(ctx, ev.ID, ReprocessOptions{})
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, again.Status)
	assert.Equal(t, ev.Content.Tables, again.Content.Tables)
	assert.Equal(t, ev.Metadata.StorageKey, again.Metadata.StorageKey)
	assert.NotNil(t, again.Metadata.SecurityScan)
	assert.Equal(t, 2, int(h.extractor.calls.Load()))

	_, err = h.svc.Reprocess(ctx, uuid.New(), ReprocessOptions{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReprocess_WithoutRetainedBytes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	ev := &entity.Evidence{Type: constants.TEXT, Source: constants.SourceUpload, Filename: "a.txt", Status: constants.StatusCompleted}
	require.NoError(t, h.repo.Save(ctx, ev))

	_, err := h.svc.Reprocess(ctx, ev.ID, ReprocessOptions{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestStructure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	csv := "region,market_size\nJapan,1200\nGlobal,9800\n"
	ev, err := h.svc.Upload(ctx, []byte(csv), "market.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)

	bundle, err := h.svc.Structure(ctx, ev.ID, StructureOptions{SourceHint: "https://stats.example.jp/market"})
	require.NoError(t, err)
	require.Len(t, bundle.Tables, 1)
	tbl := bundle.Tables[0]
	assert.Equal(t, entity.DataMarket, tbl.Metadata.DataType)
	assert.True(t, tbl.HasFootnote(entity.FootnoteCitation))
	for _, table := range bundle.Tables {
		if table.QualityScore < transform.DefaultCaveatThreshold {
			assert.True(t, table.HasFootnote(entity.FootnoteCaveat))
		}
	}

	stored, err := h.repo.Find(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Metadata.Structured)
	assert.Len(t, stored.Metadata.Structured.Tables, 1)
	assert.Equal(t, ev.Metadata.StorageKey, stored.Metadata.StorageKey)
}

func TestDeleteAndCleanup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *Config, _ *Deps) { c.Retention = 24 * time.Hour })

	keep, err := h.svc.Upload(ctx, []byte("kept,1\nrow,2\n"), "keep.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)
	drop, err := h.svc.Upload(ctx, []byte("dropped,1\nrow,2\n"), "drop.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, drop.ID))
	_, err = h.svc.Get(ctx, drop.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	report, err := h.svc.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, report.RecordsPurged, "still inside retention")

	h.clock.Advance(48 * time.Hour)
	report, err = h.svc.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RecordsPurged)
	assert.Equal(t, 1, report.BlobsDeleted)

	_, err = h.repo.FindIncludingDeleted(ctx, drop.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = h.blobs.Load(ctx, drop.Metadata.StorageKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	_, err = h.svc.Get(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestPurgeEvidence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	ev, err := h.svc.Upload(ctx, []byte(amountsCSV), "a.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.PurgeEvidence(ctx, ev.ID), common.ErrValidation, "live evidence cannot be purged")

	require.NoError(t, h.svc.Delete(ctx, ev.ID))
	require.NoError(t, h.svc.PurgeEvidence(ctx, ev.ID))
	ok, err := h.local.Exists(ctx, ev.Metadata.StorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnqueue_WithoutQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ev, err := h.svc.Upload(ctx, []byte(amountsCSV), "a.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)

	_, err = h.svc.EnqueueCompress(ctx, ev.ID)
	assert.ErrorIs(t, err, common.ErrQueueJob)
}

func TestEnqueueOCRReprocess_RejectsNonImage(t *testing.T) {
	ctx := context.Background()
	q := queue.New(nil)
	h := newHarness(t, func(_ *Config, d *Deps) { d.Queue = q })

	ev, err := h.svc.Upload(ctx, []byte(amountsCSV), "a.csv", "text/csv", UploadOptions{})
	require.NoError(t, err)
	_, err = h.svc.EnqueueOCRReprocess(ctx, ev.ID, constants.PriorityHigh, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func startQueue(t *testing.T, h *harness, q *queue.Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	events, unsubscribe := q.Subscribe(64)
	h.svc.RegisterHandlers(q)
	q.Start(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.svc.TrackJobs(ctx, events)
	}()
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = q.Shutdown(sctx)
		unsubscribe()
		cancel()
		<-done
	})
}

func TestQueuedJobs(t *testing.T) {
	compressible := strings.Repeat("region,year,market_size\nJapan,2024,1200000\n", 300)

	t.Run("deferred compression runs as a job and is overlaid", func(t *testing.T) {
		ctx := context.Background()
		q := queue.New(nil, queue.WithTickInterval(5*time.Millisecond))
		h := newHarness(t, func(c *Config, d *Deps) {
			c.DeferCompression = true
			d.Queue = q
		})
		startQueue(t, h, q)

		ev, err := h.svc.Upload(ctx, []byte(compressible), "market.csv", "text/csv", UploadOptions{})
		require.NoError(t, err)
		assert.Equal(t, storage.AlgorithmNone, ev.Metadata.Compression.Algorithm)

		require.Eventually(t, func() bool {
			got, err := h.repo.Find(ctx, ev.ID)
			if err != nil || got.Metadata.Compression == nil {
				return false
			}
			ov, ok := got.Metadata.JobOverlays[string(constants.JobCompress)]
			return ok && ov.State == constants.JobCompleted && got.Metadata.Compression.Algorithm == storage.AlgorithmZstd
		}, 5*time.Second, 10*time.Millisecond)

		raw, err := h.blobs.Load(ctx, ev.Metadata.StorageKey)
		require.NoError(t, err)
		assert.True(t, bytes.Equal([]byte(compressible), raw))
	})

	t.Run("structure job caches tables", func(t *testing.T) {
		ctx := context.Background()
		q := queue.New(nil, queue.WithTickInterval(5*time.Millisecond))
		h := newHarness(t, func(_ *Config, d *Deps) { d.Queue = q })
		startQueue(t, h, q)

		ev, err := h.svc.Upload(ctx, []byte(amountsCSV), "a.csv", "text/csv", UploadOptions{})
		require.NoError(t, err)
		jobID, err := h.svc.EnqueueStructure(ctx, ev.ID, constants.PriorityHigh, 0.95, "")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			j, ok := q.GetJobStatus(jobID)
			return ok && j.State == constants.JobCompleted
		}, 5*time.Second, 10*time.Millisecond)

		got, err := h.repo.Find(ctx, ev.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Metadata.Structured)
		require.NotEmpty(t, got.Metadata.Structured.Tables)
		for _, tbl := range got.Metadata.Structured.Tables {
			assert.NotNil(t, tbl.Metadata.RegeneratedAt)
		}
	})

	t.Run("cleanup job", func(t *testing.T) {
		ctx := context.Background()
		q := queue.New(nil, queue.WithTickInterval(5*time.Millisecond))
		h := newHarness(t, func(_ *Config, d *Deps) { d.Queue = q })
		startQueue(t, h, q)

		ev, err := h.svc.Upload(ctx, []byte(amountsCSV), "a.csv", "text/csv", UploadOptions{})
		require.NoError(t, err)
		require.NoError(t, h.svc.Delete(ctx, ev.ID))
		h.clock.Advance(2 * time.Hour)

		jobID, err := h.svc.EnqueueCleanup(time.Hour)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			j, ok := q.GetJobStatus(jobID)
			return ok && j.State == constants.JobCompleted
		}, 5*time.Second, 10*time.Millisecond)

		_, err = h.repo.FindIncludingDeleted(ctx, ev.ID)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("failing job records the error overlay", func(t *testing.T) {
		ctx := context.Background()
		q := queue.New(nil, queue.WithTickInterval(5*time.Millisecond))
		h := newHarness(t, func(_ *Config, d *Deps) { d.Queue = q })
		startQueue(t, h, q)

		ev := &entity.Evidence{Type: constants.TEXT, Source: constants.SourceUpload, Filename: "a.txt", Status: constants.StatusCompleted}
		require.NoError(t, h.repo.Save(ctx, ev))
		_, err := h.svc.EnqueueCompress(ctx, ev.ID)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			got, err := h.repo.Find(ctx, ev.ID)
			if err != nil {
				return false
			}
			ov, ok := got.Metadata.JobOverlays[string(constants.JobCompress)]
			return ok && ov.State == constants.JobFailed && ov.Error != ""
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestHandlers_RejectMalformedPayloads(t *testing.T) {
	h := newHarness(t, nil)
	tests := []struct {
		name    string
		handler func(context.Context, *queue.Job) (float64, error)
		payload string
	}{
		{"unknown storage action", h.svc.handleStorage, `{"action":"shred"}`},
		{"purge without id", h.svc.handleStorage, `{"action":"purge"}`},
		{"purge with bad id", h.svc.handleStorage, `{"action":"purge","evidence_id":"nope"}`},
		{"ocr with bad id", h.svc.handleOCR, `{"evidence_id":"12345"}`},
		{"transform without id", h.svc.handleTransform, `{}`},
		{"compress with bad id", h.svc.handleCompress, `{"evidence_id":"not-a-uuid"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &queue.Job{ID: uuid.NewString(), Payload: []byte(tt.payload)}
			_, err := tt.handler(context.Background(), job)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrValidation))
		})
	}
}

func TestPayloadID_DecoratesContext(t *testing.T) {
	job := &queue.Job{ID: "job-1"}
	id := uuid.New()

	ctx, got, err := payloadID(context.Background(), job, id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "job-1", common.RequestIDFromContext(ctx))
	assert.Equal(t, id.String(), common.EvidenceIDFromContext(ctx))

	ctx, _, err = payloadID(context.Background(), job, "bad")
	require.Error(t, err)
	assert.Equal(t, "job-1", common.RequestIDFromContext(ctx))
	assert.Empty(t, common.EvidenceIDFromContext(ctx))
}
