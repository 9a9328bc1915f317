package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

const (
	blobPrefix = "blobs/"
	zstdSuffix = ".zst"

	AlgorithmZstd = "zstd"
	AlgorithmNone = "none"

	DefaultMinSavings = 0.10
)

// Catalog is the record store consulted by Cleanup.
type Catalog interface {
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Evidence, error)
	Purge(ctx context.Context, id uuid.UUID) error
	StorageKeyInUse(ctx context.Context, key string) (bool, error)
}

// OptimizerConfig tunes the optimizer.
type OptimizerConfig struct {
	// MinSavings is the fraction of bytes zstd must save before the compressed form is kept.
	MinSavings float64
}

// StoredObject describes where Store put a payload.
type StoredObject struct {
	Key          string // logical, content addressed
	ObjectKey    string // physical key in the backend
	Checksum     string
	OriginalSize int64
	StoredSize   int64
	Compressed   bool
	Deduplicated bool
}

// Compression converts the result into record metadata.
func (o StoredObject) Compression() *entity.CompressionInfo {
	algo := AlgorithmNone
	if o.Compressed {
		algo = AlgorithmZstd
	}
	info := &entity.CompressionInfo{
		Algorithm:    algo,
		OriginalSize: o.OriginalSize,
		StoredSize:   o.StoredSize,
		Deduplicated: o.Deduplicated,
	}
	if o.OriginalSize > 0 && o.StoredSize > 0 {
		info.Ratio = float64(o.StoredSize) / float64(o.OriginalSize)
	}
	return info
}

// Stats are running counters since the optimizer was created.
type Stats struct {
	Objects       int64
	OriginalBytes int64
	StoredBytes   int64
	DedupHits     int64
	SavedBytes    int64
}

// Usage summarizes what the backend currently holds.
type Usage struct {
	Objects    int
	Compressed int
	Bytes      int64
}

// CleanupReport is the outcome of one retention sweep.
type CleanupReport struct {
	Cutoff        time.Time
	RecordsPurged int
	BlobsDeleted  int
	BlobsKept     int
}

// Optimizer content-addresses, dedupes and compresses blobs on top of an ObjectStorage.
type Optimizer struct {
	store      ObjectStorage
	catalog    Catalog
	minSavings float64
	logger     *slog.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu    sync.Mutex
	stats Stats
}

// NewOptimizer wraps store. catalog may be nil when Cleanup is never called.
func NewOptimizer(store ObjectStorage, catalog Catalog, cfg OptimizerConfig, logger *slog.Logger) (*Optimizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinSavings <= 0 {
		cfg.MinSavings = DefaultMinSavings
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &Optimizer{
		store:      store,
		catalog:    catalog,
		minSavings: cfg.MinSavings,
		logger:     logger,
		enc:        enc,
		dec:        dec,
	}, nil
}

// Close releases the zstd decoder.
func (o *Optimizer) Close() {
	o.dec.Close()
}

// KeyFor returns the logical key for data.
func KeyFor(data []byte) string {
	sum := sha256.Sum256(data)
	return blobPrefix + hex.EncodeToString(sum[:])
}

// Store saves data, compressing it when that pays off.
func (o *Optimizer) Store(ctx context.Context, data []byte, contentType string) (StoredObject, error) {
	return o.save(ctx, data, contentType, true)
}

// StoreRaw saves data uncompressed; a later Compress call may shrink it.
func (o *Optimizer) StoreRaw(ctx context.Context, data []byte, contentType string) (StoredObject, error) {
	return o.save(ctx, data, contentType, false)
}

func (o *Optimizer) save(ctx context.Context, data []byte, contentType string, compress bool) (StoredObject, error) {
	key := KeyFor(data)
	obj := StoredObject{
		Key:          key,
		Checksum:     strings.TrimPrefix(key, blobPrefix),
		OriginalSize: int64(len(data)),
	}

	physical, compressed, err := o.locate(ctx, key)
	if err != nil {
		return StoredObject{}, err
	}
	if physical != "" {
		obj.ObjectKey = physical
		obj.Compressed = compressed
		obj.Deduplicated = true
		o.mu.Lock()
		o.stats.DedupHits++
		o.stats.SavedBytes += obj.OriginalSize
		o.mu.Unlock()
		o.logger.Debug("blob deduplicated", "key", key, "size", humanize.Bytes(uint64(len(data))))
		return obj, nil
	}

	payload, ct := data, contentType
	obj.ObjectKey = key
	if compress {
		if packed, ok := o.shrink(data); ok {
			payload, ct = packed, "application/zstd"
			obj.ObjectKey = key + zstdSuffix
			obj.Compressed = true
		}
	}
	if err := o.store.Put(ctx, obj.ObjectKey, payload, ct); err != nil {
		return StoredObject{}, fmt.Errorf("store blob: %w", err)
	}
	obj.StoredSize = int64(len(payload))

	o.mu.Lock()
	o.stats.Objects++
	o.stats.OriginalBytes += obj.OriginalSize
	o.stats.StoredBytes += obj.StoredSize
	o.stats.SavedBytes += obj.OriginalSize - obj.StoredSize
	o.mu.Unlock()

	o.logger.Debug("blob stored",
		"key", obj.ObjectKey,
		"original", humanize.Bytes(uint64(obj.OriginalSize)),
		"stored", humanize.Bytes(uint64(obj.StoredSize)),
		"compressed", obj.Compressed)
	return obj, nil
}

// shrink returns the zstd form of data when it saves at least minSavings.
func (o *Optimizer) shrink(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	packed := o.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	saved := 1 - float64(len(packed))/float64(len(data))
	if saved < o.minSavings {
		return nil, false
	}
	return packed, true
}

// locate finds the physical object for a logical key; empty when neither variant exists.
func (o *Optimizer) locate(ctx context.Context, key string) (string, bool, error) {
	ok, err := o.store.Exists(ctx, key+zstdSuffix)
	if err != nil {
		return "", false, fmt.Errorf("check blob: %w", err)
	}
	if ok {
		return key + zstdSuffix, true, nil
	}
	ok, err = o.store.Exists(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("check blob: %w", err)
	}
	if ok {
		return key, false, nil
	}
	return "", false, nil
}

// Load returns the original bytes for a logical key and verifies their checksum.
func (o *Optimizer) Load(ctx context.Context, key string) ([]byte, error) {
	key = strings.TrimSuffix(key, zstdSuffix)

	var data []byte
	packed, err := o.store.Get(ctx, key+zstdSuffix)
	switch {
	case err == nil:
		data, err = o.dec.DecodeAll(packed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
	case errors.Is(err, ErrObjectNotFound):
		data, err = o.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if strings.HasPrefix(key, blobPrefix) && KeyFor(data) != key {
		return nil, fmt.Errorf("checksum mismatch for %s", key)
	}
	return data, nil
}

// Compress rewrites an uncompressed blob as zstd. Blobs that are already compressed
// or that would not shrink enough are left as they are.
func (o *Optimizer) Compress(ctx context.Context, key string) (StoredObject, error) {
	key = strings.TrimSuffix(key, zstdSuffix)
	obj := StoredObject{Key: key, Checksum: strings.TrimPrefix(key, blobPrefix)}

	physical, compressed, err := o.locate(ctx, key)
	if err != nil {
		return StoredObject{}, err
	}
	if physical == "" {
		return StoredObject{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if compressed {
		obj.ObjectKey, obj.Compressed = physical, true
		return obj, nil
	}

	raw, err := o.store.Get(ctx, key)
	if err != nil {
		return StoredObject{}, err
	}
	obj.ObjectKey = key
	obj.OriginalSize = int64(len(raw))
	obj.StoredSize = obj.OriginalSize

	packed, ok := o.shrink(raw)
	if !ok {
		return obj, nil
	}
	if err := o.store.Put(ctx, key+zstdSuffix, packed, "application/zstd"); err != nil {
		return StoredObject{}, fmt.Errorf("store compressed blob: %w", err)
	}
	if err := o.store.Delete(ctx, key); err != nil {
		return StoredObject{}, fmt.Errorf("remove raw blob: %w", err)
	}

	obj.ObjectKey = key + zstdSuffix
	obj.StoredSize = int64(len(packed))
	obj.Compressed = true

	o.mu.Lock()
	o.stats.StoredBytes -= obj.OriginalSize - obj.StoredSize
	o.stats.SavedBytes += obj.OriginalSize - obj.StoredSize
	o.mu.Unlock()

	o.logger.Info("blob compressed",
		"key", key,
		"original", humanize.Bytes(uint64(obj.OriginalSize)),
		"stored", humanize.Bytes(uint64(obj.StoredSize)))
	return obj, nil
}

// Delete removes both variants of a logical key.
func (o *Optimizer) Delete(ctx context.Context, key string) error {
	key = strings.TrimSuffix(key, zstdSuffix)
	if err := o.store.Delete(ctx, key+zstdSuffix); err != nil {
		return err
	}
	return o.store.Delete(ctx, key)
}

// Cleanup purges records soft-deleted before now-retention and deletes their blobs
// once no remaining record references them. Per-record failures are logged and returned
// together after the sweep finishes.
func (o *Optimizer) Cleanup(ctx context.Context, retention time.Duration, now time.Time) (CleanupReport, error) {
	report := CleanupReport{Cutoff: now.Add(-retention)}
	if o.catalog == nil {
		return report, errors.New("cleanup requires a catalog")
	}

	records, err := o.catalog.ListDeletedBefore(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("list expired evidence: %w", err)
	}

	var errs []error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.catalog.Purge(ctx, rec.ID); err != nil {
			o.logger.Error("purge evidence failed", "evidence_id", rec.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		report.RecordsPurged++

		key := rec.Metadata.StorageKey
		if key == "" {
			continue
		}
		inUse, err := o.catalog.StorageKeyInUse(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inUse {
			report.BlobsKept++
			continue
		}
		if err := o.Delete(ctx, key); err != nil {
			o.logger.Error("delete blob failed", "key", key, "error", err)
			errs = append(errs, err)
			continue
		}
		report.BlobsDeleted++
	}

	o.logger.Info("retention cleanup finished",
		"cutoff", report.Cutoff,
		"records_purged", report.RecordsPurged,
		"blobs_deleted", report.BlobsDeleted,
		"blobs_kept", report.BlobsKept)
	return report, errors.Join(errs...)
}

// Stats returns a snapshot of the counters.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Usage lists stored blobs.
func (o *Optimizer) Usage(ctx context.Context) (Usage, error) {
	objs, err := o.store.List(ctx, blobPrefix)
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	for _, obj := range objs {
		u.Objects++
		u.Bytes += obj.Size
		if strings.HasSuffix(obj.Key, zstdSuffix) {
			u.Compressed++
		}
	}
	return u, nil
}
