package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

const (
	evidenceTable = "evidence"

	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

var evidenceColumns = []string{
	"id", "type", "source", "filename", "mime_type", "size", "status", "quality_score",
	"content", "metadata", "checksum", "storage_key", "created_at", "processed_at", "deleted_at",
}

// Filter narrows List. Zero fields match everything; soft-deleted rows are hidden
// unless IncludeDeleted is set.
type Filter struct {
	Type           constants.EvidenceType
	Source         constants.EvidenceSource
	Status         constants.EvidenceStatus
	CreatedFrom    time.Time // inclusive
	CreatedTo      time.Time // exclusive
	IncludeDeleted bool
}

// Page is offset pagination. Limit <= 0 means DefaultPageLimit.
type Page struct {
	Limit  int
	Offset int
}

// Patch replaces whole fields of a record. JobOverlays is the exception: its entries
// are merged into the stored metadata overlays by key.
type Patch struct {
	Type         *constants.EvidenceType
	MimeType     *string
	Size         *int64
	Status       *constants.EvidenceStatus
	QualityScore *float64
	Content      *entity.Content
	Metadata     *entity.Metadata
	ProcessedAt  *time.Time
	JobOverlays  map[string]entity.JobOverlay
}

type EvidenceRepository interface {
	Save(ctx context.Context, ev *entity.Evidence) error
	Find(ctx context.Context, id uuid.UUID) (*entity.Evidence, error)
	FindIncludingDeleted(ctx context.Context, id uuid.UUID) (*entity.Evidence, error)
	List(ctx context.Context, filter Filter, page Page) ([]*entity.Evidence, int, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*entity.Evidence, error)
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	Purge(ctx context.Context, id uuid.UUID) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Evidence, error)
	StorageKeyInUse(ctx context.Context, key string) (bool, error)
}

type evidenceRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewEvidenceRepository(db *DB, logger *slog.Logger) EvidenceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &evidenceRepo{db: db, logger: logger}
}

func dbError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrDatabase, err)
}

func notFound(id uuid.UUID) error {
	return fmt.Errorf("%w: evidence %s", common.ErrNotFound, id)
}

func (r *evidenceRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.dialect)
}

// Save inserts a new record. A nil ID and zero CreatedAt are filled in.
func (r *evidenceRepo) Save(ctx context.Context, ev *entity.Evidence) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.CreatedAt = ev.CreatedAt.Truncate(time.Millisecond)

	values, err := rowValues(ev)
	if err != nil {
		return err
	}
	query, args := r.builder().Insert(evidenceTable).Columns(evidenceColumns...).Values(values...).Query()
	var res stdsql.Result
	if err := r.db.Driver.Exec(ctx, query, args, &res); err != nil {
		r.logger.Error("failed to save evidence", "evidence_id", ev.ID, "error", err)
		return dbError("save evidence", err)
	}
	return nil
}

func (r *evidenceRepo) Find(ctx context.Context, id uuid.UUID) (*entity.Evidence, error) {
	ev, err := r.findWith(ctx, r.db.Driver, id, false)
	if err != nil {
		return nil, err
	}
	if ev.IsDeleted() {
		return nil, notFound(id)
	}
	return ev, nil
}

// FindIncludingDeleted also returns soft-deleted records.
func (r *evidenceRepo) FindIncludingDeleted(ctx context.Context, id uuid.UUID) (*entity.Evidence, error) {
	return r.findWith(ctx, r.db.Driver, id, false)
}

// selectByID builds the single-row lookup. forUpdate row-locks it on dialects that
// support SELECT ... FOR UPDATE; SQLite serializes writers on its single connection.
func selectByID(d string, id uuid.UUID, forUpdate bool) (string, []any) {
	sel := entsql.Dialect(d).Select(evidenceColumns...).
		From(entsql.Table(evidenceTable)).
		Where(entsql.EQ("id", id.String()))
	if forUpdate && d != dialect.SQLite {
		sel.ForUpdate()
	}
	return sel.Query()
}

func (r *evidenceRepo) findWith(ctx context.Context, q dialect.ExecQuerier, id uuid.UUID, forUpdate bool) (*entity.Evidence, error) {
	query, args := selectByID(r.db.dialect, id, forUpdate)
	rows, err := queryEvidence(ctx, q, query, args)
	if err != nil {
		r.logger.Error("failed to find evidence", "evidence_id", id, "error", err)
		return nil, dbError("find evidence", err)
	}
	if len(rows) == 0 {
		return nil, notFound(id)
	}
	return rows[0], nil
}

// List returns one page of matching records, newest first, and the total match count.
func (r *evidenceRepo) List(ctx context.Context, filter Filter, page Page) ([]*entity.Evidence, int, error) {
	if page.Limit <= 0 {
		page.Limit = DefaultPageLimit
	}
	if page.Limit > MaxPageLimit {
		page.Limit = MaxPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	pred := filterPredicate(filter)

	countSel := r.builder().Select(entsql.Count("*")).From(entsql.Table(evidenceTable))
	if pred != nil {
		countSel.Where(pred)
	}
	query, args := countSel.Query()
	total, err := r.count(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to count evidence", "error", err)
		return nil, 0, dbError("count evidence", err)
	}

	sel := r.builder().Select(evidenceColumns...).From(entsql.Table(evidenceTable))
	if pred != nil {
		sel.Where(pred)
	}
	query, args = sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(page.Limit).
		Offset(page.Offset).
		Query()
	out, err := queryEvidence(ctx, r.db.Driver, query, args)
	if err != nil {
		r.logger.Error("failed to list evidence", "error", err)
		return nil, 0, dbError("list evidence", err)
	}
	return out, total, nil
}

func filterPredicate(f Filter) *entsql.Predicate {
	var ps []*entsql.Predicate
	if f.Type != "" {
		ps = append(ps, entsql.EQ("type", string(f.Type)))
	}
	if f.Source != "" {
		ps = append(ps, entsql.EQ("source", string(f.Source)))
	}
	if f.Status != "" {
		ps = append(ps, entsql.EQ("status", string(f.Status)))
	}
	if !f.CreatedFrom.IsZero() {
		ps = append(ps, entsql.GTE("created_at", f.CreatedFrom.UnixMilli()))
	}
	if !f.CreatedTo.IsZero() {
		ps = append(ps, entsql.LT("created_at", f.CreatedTo.UnixMilli()))
	}
	if !f.IncludeDeleted {
		ps = append(ps, entsql.IsNull("deleted_at"))
	}
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	}
	return entsql.And(ps...)
}

func (r *evidenceRepo) count(ctx context.Context, query string, args []any) (int, error) {
	rows := &entsql.Rows{}
	if err := r.db.Driver.Query(ctx, query, args, rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return int(n), rows.Err()
}

// Update applies patch to a live record inside a transaction and returns the result.
// The row is locked between the read and the write so concurrent patches do not lose
// each other's changes.
func (r *evidenceRepo) Update(ctx context.Context, id uuid.UUID, patch Patch) (*entity.Evidence, error) {
	tx, err := r.db.Driver.Tx(ctx)
	if err != nil {
		return nil, dbError("begin update", err)
	}
	ev, err := r.findWith(ctx, tx, id, true)
	if err == nil && ev.IsDeleted() {
		err = notFound(id)
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	applyPatch(ev, patch)

	content, err := json.Marshal(ev.Content)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("encode content: %w", err)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	upd := r.builder().Update(evidenceTable).
		Set("type", string(ev.Type)).
		Set("mime_type", ev.MimeType).
		Set("size", ev.Size).
		Set("status", string(ev.Status)).
		Set("quality_score", ev.QualityScore).
		Set("content", string(content)).
		Set("metadata", string(metadata)).
		Set("checksum", ev.Metadata.Checksum).
		Set("storage_key", ev.Metadata.StorageKey)
	if ev.ProcessedAt != nil {
		upd.Set("processed_at", ev.ProcessedAt.UnixMilli())
	} else {
		upd.SetNull("processed_at")
	}
	query, args := upd.Where(entsql.EQ("id", id.String())).Query()

	var res stdsql.Result
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		_ = tx.Rollback()
		r.logger.Error("failed to update evidence", "evidence_id", id, "error", err)
		return nil, dbError("update evidence", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, dbError("commit update", err)
	}
	return ev, nil
}

func applyPatch(ev *entity.Evidence, p Patch) {
	if p.Type != nil {
		ev.Type = *p.Type
	}
	if p.MimeType != nil {
		ev.MimeType = *p.MimeType
	}
	if p.Size != nil {
		ev.Size = *p.Size
	}
	if p.Status != nil {
		ev.Status = *p.Status
	}
	if p.QualityScore != nil {
		ev.QualityScore = *p.QualityScore
	}
	if p.Content != nil {
		ev.Content = *p.Content
	}
	if p.ProcessedAt != nil {
		ts := p.ProcessedAt.UTC().Truncate(time.Millisecond)
		ev.ProcessedAt = &ts
	}
	if p.Metadata != nil {
		overlays := ev.Metadata.JobOverlays
		ev.Metadata = *p.Metadata
		if ev.Metadata.JobOverlays == nil {
			ev.Metadata.JobOverlays = overlays
		}
	}
	if len(p.JobOverlays) > 0 {
		if ev.Metadata.JobOverlays == nil {
			ev.Metadata.JobOverlays = make(map[string]entity.JobOverlay, len(p.JobOverlays))
		}
		maps.Copy(ev.Metadata.JobOverlays, p.JobOverlays)
	}
}

// SoftDelete stamps deleted_at. Deleting an already deleted record is a no-op.
func (r *evidenceRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args := r.builder().Update(evidenceTable).
		Set("deleted_at", at.UnixMilli()).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.IsNull("deleted_at"))).
		Query()
	var res stdsql.Result
	if err := r.db.Driver.Exec(ctx, query, args, &res); err != nil {
		r.logger.Error("failed to soft delete evidence", "evidence_id", id, "error", err)
		return dbError("soft delete evidence", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	// distinguish "already deleted" from "missing"
	if _, err := r.findWith(ctx, r.db.Driver, id, false); err != nil {
		return err
	}
	return nil
}

// Purge hard-deletes a record. Only retention cleanup calls this.
func (r *evidenceRepo) Purge(ctx context.Context, id uuid.UUID) error {
	query, args := r.builder().Delete(evidenceTable).Where(entsql.EQ("id", id.String())).Query()
	var res stdsql.Result
	if err := r.db.Driver.Exec(ctx, query, args, &res); err != nil {
		r.logger.Error("failed to purge evidence", "evidence_id", id, "error", err)
		return dbError("purge evidence", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

func (r *evidenceRepo) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Evidence, error) {
	query, args := r.builder().Select(evidenceColumns...).
		From(entsql.Table(evidenceTable)).
		Where(entsql.And(entsql.NotNull("deleted_at"), entsql.LT("deleted_at", cutoff.UnixMilli()))).
		OrderBy("deleted_at").
		Query()
	out, err := queryEvidence(ctx, r.db.Driver, query, args)
	if err != nil {
		r.logger.Error("failed to list deleted evidence", "cutoff", cutoff, "error", err)
		return nil, dbError("list deleted evidence", err)
	}
	return out, nil
}

// StorageKeyInUse reports whether any record, deleted or not, still references key.
func (r *evidenceRepo) StorageKeyInUse(ctx context.Context, key string) (bool, error) {
	query, args := r.builder().Select(entsql.Count("*")).
		From(entsql.Table(evidenceTable)).
		Where(entsql.EQ("storage_key", key)).
		Query()
	n, err := r.count(ctx, query, args)
	if err != nil {
		return false, dbError("check storage key", err)
	}
	return n > 0, nil
}

func rowValues(ev *entity.Evidence) ([]any, error) {
	content, err := json.Marshal(ev.Content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return []any{
		ev.ID.String(),
		string(ev.Type),
		string(ev.Source),
		ev.Filename,
		ev.MimeType,
		ev.Size,
		string(ev.Status),
		ev.QualityScore,
		string(content),
		string(metadata),
		ev.Metadata.Checksum,
		ev.Metadata.StorageKey,
		ev.CreatedAt.UnixMilli(),
		nullableMillis(ev.ProcessedAt),
		nullableMillis(ev.DeletedAt),
	}, nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func queryEvidence(ctx context.Context, q dialect.ExecQuerier, query string, args []any) ([]*entity.Evidence, error) {
	rows := &entsql.Rows{}
	if err := q.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvidence(rows *entsql.Rows) (*entity.Evidence, error) {
	var (
		id, typ, source, status string
		content, metadata       string
		checksum, storageKey    string
		ev                      entity.Evidence
		createdAt               int64
		processedAt, deletedAt  stdsql.NullInt64
	)
	if err := rows.Scan(
		&id, &typ, &source, &ev.Filename, &ev.MimeType, &ev.Size, &status, &ev.QualityScore,
		&content, &metadata, &checksum, &storageKey, &createdAt, &processedAt, &deletedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad evidence id %q: %w", id, err)
	}
	ev.ID = parsed
	ev.Type = constants.EvidenceType(typ)
	ev.Source = constants.EvidenceSource(source)
	ev.Status = constants.EvidenceStatus(status)
	ev.CreatedAt = time.UnixMilli(createdAt).UTC()
	if processedAt.Valid {
		ts := time.UnixMilli(processedAt.Int64).UTC()
		ev.ProcessedAt = &ts
	}
	if deletedAt.Valid {
		ts := time.UnixMilli(deletedAt.Int64).UTC()
		ev.DeletedAt = &ts
	}
	if err := json.Unmarshal([]byte(content), &ev.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if ev.Metadata.Checksum == "" {
		ev.Metadata.Checksum = checksum
	}
	if ev.Metadata.StorageKey == "" {
		ev.Metadata.StorageKey = storageKey
	}
	return &ev, nil
}
