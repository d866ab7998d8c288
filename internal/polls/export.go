package polls

import (
	"context"

	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/queue"
)

// ExportEnqueuer schedules an export of an archived poll.
type ExportEnqueuer interface {
	EnqueueArchiveExport(ctx context.Context, payload queue.ArchiveExportPayload) error
}

// ExportingArchive saves through the wrapped Archive and then enqueues an export job.
// Enqueue failures are logged only; the poll is already archived.
type ExportingArchive struct {
	Archive
	queue  ExportEnqueuer
	logger *zap.Logger
}

// NewExportingArchive wraps archive so every successful save is followed by an export job.
func NewExportingArchive(archive Archive, q ExportEnqueuer, logger *zap.Logger) *ExportingArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportingArchive{Archive: archive, queue: q, logger: logger}
}

// Save implements Archive.
func (a *ExportingArchive) Save(ctx context.Context, p *models.ArchivedPoll) (string, error) {
	id, err := a.Archive.Save(ctx, p)
	if err != nil {
		return "", err
	}
	if err := a.queue.EnqueueArchiveExport(ctx, queue.ArchiveExportPayload{PollID: id}); err != nil {
		a.logger.Warn("enqueue archive export failed", zap.String("poll_id", id), zap.Error(err))
	}
	return id, nil
}
