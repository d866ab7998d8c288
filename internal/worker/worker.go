package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/pkg/queue"
)

// ArchiveLoader loads archived polls by id.
type ArchiveLoader interface {
	GetByID(ctx context.Context, id string) (*models.ArchivedPoll, error)
}

// ArchiveUploader writes exported archive documents.
type ArchiveUploader interface {
	UploadArchive(ctx context.Context, pollID string, body io.Reader, contentLength int64) (string, error)
}

// JobSource is the job queue the exporter consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ExportDocument is the JSON written for each exported poll.
type ExportDocument struct {
	models.ArchivedPollWithStats
	ExportedAt time.Time `json:"exported_at"`
}

// ArchiveExporter processes archive export jobs: load the poll from the archive, upload JSON to S3.
type ArchiveExporter struct {
	archive  ArchiveLoader
	uploader ArchiveUploader
	queue    JobSource
	logger   *zap.Logger
	backoff  time.Duration
	now      func() time.Time
}

// NewArchiveExporter creates an archive export processor.
func NewArchiveExporter(archive ArchiveLoader, uploader ArchiveUploader, q JobSource, logger *zap.Logger) *ArchiveExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveExporter{
		archive:  archive,
		uploader: uploader,
		queue:    q,
		logger:   logger,
		backoff:  queue.RetryBackoff,
		now:      time.Now,
	}
}

// Process executes one archive export job.
func (p *ArchiveExporter) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArchiveExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchiveExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	poll, err := p.archive.GetByID(ctx, payload.PollID)
	if err != nil {
		if errors.Is(err, polls.ErrNotFound) {
			p.logger.Warn("archived poll missing, dropping export", zap.String("poll_id", payload.PollID))
			return nil
		}
		return fmt.Errorf("load poll: %w", err)
	}

	body, err := json.Marshal(ExportDocument{ArchivedPollWithStats: polls.WithStats(*poll), ExportedAt: p.now()})
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	url, err := p.uploader.UploadArchive(ctx, poll.ID, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("archive export completed", zap.String("poll_id", poll.ID), zap.String("url", url))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveExporter) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("archive export worker stopping")
			return
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveExporter) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
