package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/evidence-pipeline/constants"
	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
	"github.com/joseph-ayodele/evidence-pipeline/internal/extract"
	"github.com/joseph-ayodele/evidence-pipeline/internal/queue"
	"github.com/joseph-ayodele/evidence-pipeline/internal/repository"
)

// expectedOCRSeconds is a rough per-MB recognition time used for cost estimates.
const expectedOCRSeconds = 4.0

func (s *Service) enqueue(spec queue.JobSpec) (string, error) {
	if s.queue == nil {
		return "", fmt.Errorf("%w: no processing queue configured", common.ErrQueueJob)
	}
	if spec.MaxRetries == 0 {
		spec.MaxRetries = s.cfg.JobMaxRetries
	}
	return s.queue.AddJob(spec)
}

// EnqueueOCRReprocess queues an OCR pass over a record's retained bytes.
func (s *Service) EnqueueOCRReprocess(ctx context.Context, id uuid.UUID, priority constants.JobPriority, languages []string) (string, error) {
	ev, err := s.repo.Find(ctx, id)
	if err != nil {
		return "", err
	}
	if ev.Type != constants.IMAGE && ev.Type != constants.PDF {
		return "", common.NewValidationError("evidence_id", fmt.Sprintf("%s evidence has nothing to OCR", ev.Type))
	}
	size := ev.Size
	if c := ev.Metadata.Compression; c != nil && size == 0 {
		size = c.OriginalSize
	}
	return s.enqueue(queue.JobSpec{
		Type:     constants.JobOCR,
		Priority: priority,
		Payload: queue.OCRPayload{
			EvidenceID:      id.String(),
			SizeBytes:       size,
			ExpectedSeconds: expectedOCRSeconds * float64(size) / (1 << 20),
			Languages:       normalizeLanguages(languages),
		},
	})
}

// EnqueueStructure queues a structuring pass. threshold > 0 regenerates caveats.
func (s *Service) EnqueueStructure(ctx context.Context, id uuid.UUID, priority constants.JobPriority, threshold float64, sourceHint string) (string, error) {
	ev, err := s.repo.Find(ctx, id)
	if err != nil {
		return "", err
	}
	return s.enqueue(queue.JobSpec{
		Type:     constants.JobTransform,
		Priority: priority,
		Payload: queue.TransformPayload{
			EvidenceID:       id.String(),
			SizeBytes:        ev.Size,
			QualityThreshold: threshold,
			SourceHint:       sourceHint,
		},
	})
}

// EnqueueCompress queues compression of a record's retained bytes.
func (s *Service) EnqueueCompress(ctx context.Context, id uuid.UUID) (string, error) {
	ev, err := s.repo.Find(ctx, id)
	if err != nil {
		return "", err
	}
	return s.enqueue(queue.JobSpec{
		Type:     constants.JobCompress,
		Priority: constants.PriorityLow,
		Payload: queue.CompressPayload{
			EvidenceID: id.String(),
			StorageKey: ev.Metadata.StorageKey,
			SizeBytes:  ev.Size,
		},
	})
}

// EnqueueCleanup queues a retention sweep.
func (s *Service) EnqueueCleanup(retention time.Duration) (string, error) {
	if retention <= 0 {
		retention = s.cfg.Retention
	}
	return s.enqueue(queue.JobSpec{
		Type:     constants.JobStorage,
		Priority: constants.PriorityLow,
		Payload: queue.StoragePayload{
			Action:           queue.StorageActionCleanup,
			RetentionSeconds: int64(retention / time.Second),
		},
	})
}

// RegisterHandlers installs a handler for every job type.
func (s *Service) RegisterHandlers(r HandlerRegistry) {
	r.Register(constants.JobOCR, s.handleOCR)
	r.Register(constants.JobTransform, s.handleTransform)
	r.Register(constants.JobCompress, s.handleCompress)
	r.Register(constants.JobStorage, s.handleStorage)
}

// payloadID validates a payload evidence_id and returns ctx decorated with the
// job and evidence IDs for logging.
func payloadID(ctx context.Context, job *queue.Job, raw string) (context.Context, uuid.UUID, error) {
	ctx = common.WithRequestID(ctx, job.ID)
	v := common.NewValidator().Field("evidence_id", raw, common.Required, common.UUID)
	if err := v.Error(); err != nil {
		return ctx, uuid.Nil, err
	}
	id := uuid.MustParse(raw)
	return common.WithEvidenceID(ctx, id.String()), id, nil
}

func (s *Service) handleOCR(ctx context.Context, job *queue.Job) (float64, error) {
	var p queue.OCRPayload
	if err := job.DecodePayload(&p); err != nil {
		return 0, err
	}
	ctx, id, err := payloadID(ctx, job, p.EvidenceID)
	if err != nil {
		return 0, err
	}
	opts := extract.ProcessOptions{OCRLanguages: p.Languages}
	if p.Preprocess != nil {
		opts.SkipPreprocess = !*p.Preprocess
	}
	_, err = s.Reprocess(ctx, id, ReprocessOptions{Process: opts})
	return 0, err
}

func (s *Service) handleTransform(ctx context.Context, job *queue.Job) (float64, error) {
	var p queue.TransformPayload
	if err := job.DecodePayload(&p); err != nil {
		return 0, err
	}
	ctx, id, err := payloadID(ctx, job, p.EvidenceID)
	if err != nil {
		return 0, err
	}
	_, err = s.Structure(ctx, id, StructureOptions{SourceHint: p.SourceHint, Threshold: p.QualityThreshold})
	return 0, err
}

func (s *Service) handleCompress(ctx context.Context, job *queue.Job) (float64, error) {
	var p queue.CompressPayload
	if err := job.DecodePayload(&p); err != nil {
		return 0, err
	}
	ctx, id, err := payloadID(ctx, job, p.EvidenceID)
	if err != nil {
		return 0, err
	}
	_, err = s.CompressStored(ctx, id)
	return 0, err
}

func (s *Service) handleStorage(ctx context.Context, job *queue.Job) (float64, error) {
	var p queue.StoragePayload
	if err := job.DecodePayload(&p); err != nil {
		return 0, err
	}
	switch p.Action {
	case queue.StorageActionCleanup:
		_, err := s.Cleanup(ctx, time.Duration(p.RetentionSeconds)*time.Second)
		return 0, err
	case queue.StorageActionPurge:
		ctx, id, err := payloadID(ctx, job, p.EvidenceID)
		if err != nil {
			return 0, err
		}
		return 0, s.PurgeEvidence(ctx, id)
	}
	return 0, common.NewValidationError("action", fmt.Sprintf("unknown storage action %q", p.Action))
}

// TrackJobs writes queue transitions onto the records the jobs work on until events closes.
func (s *Service) TrackJobs(ctx context.Context, events <-chan queue.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.applyOverlay(ctx, evt)
		}
	}
}

func (s *Service) applyOverlay(ctx context.Context, evt queue.Event) {
	var ref struct {
		EvidenceID string `json:"evidence_id"`
	}
	if err := evt.Job.DecodePayload(&ref); err != nil || ref.EvidenceID == "" {
		return
	}
	id, err := uuid.Parse(ref.EvidenceID)
	if err != nil {
		return
	}
	overlay := entity.JobOverlay{
		JobID:     evt.Job.ID,
		State:     evt.Job.State,
		Cost:      evt.Job.ActualCost,
		Error:     evt.Job.LastError,
		UpdatedAt: evt.At,
	}
	_, err = s.repo.Update(ctx, id, repository.Patch{
		JobOverlays: map[string]entity.JobOverlay{string(evt.Job.Type): overlay},
	})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNotFound):
		s.logger.Debug("job overlay skipped, evidence gone", "evidence_id", id, "job_id", evt.Job.ID)
	default:
		s.logger.Warn("failed to record job overlay", "evidence_id", id, "job_id", evt.Job.ID, "error", err)
	}
}
