package polls

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/response"
	"github.com/livepoll/backend/pkg/storage"
)

// ArchiveReader is the read path of the archive.
type ArchiveReader interface {
	ListAll(ctx context.Context) ([]models.ArchivedPoll, error)
	GetByID(ctx context.Context, id string) (*models.ArchivedPoll, error)
}

// ExportLinker returns download links for exported archives.
type ExportLinker interface {
	ArchiveDownloadURL(ctx context.Context, pollID string) (string, error)
}

// ParticipantCounter reports how many participants are connected.
type ParticipantCounter interface {
	ParticipantCount() int
}

// Handler handles poll HTTP endpoints. All of them are read-only.
type Handler struct {
	archive ArchiveReader
	exports ExportLinker
	logger  *zap.Logger
}

// NewHandler creates a polls handler. exports may be nil when S3 export is not configured.
func NewHandler(archive ArchiveReader, exports ExportLinker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{archive: archive, exports: exports, logger: logger}
}

// WithStats attaches the tally to an archived poll.
func WithStats(p models.ArchivedPoll) models.ArchivedPollWithStats {
	stats := ComputeStats(p.Options, p.Responses)
	return models.ArchivedPollWithStats{ArchivedPoll: p, OptionStats: stats.OptionStats, Total: stats.Total}
}

// List handles GET /polls (newest first, with tallies).
func (h *Handler) List(c *gin.Context) {
	list, err := h.archive.ListAll(c.Request.Context())
	if err != nil {
		h.logger.Error("list polls", zap.Error(err))
		response.Internal(c, "failed to fetch polls")
		return
	}
	out := make([]models.ArchivedPollWithStats, 0, len(list))
	for _, p := range list {
		out = append(out, WithStats(p))
	}
	response.OKList(c, out, len(out))
}

// GetByID handles GET /polls/:id.
func (h *Handler) GetByID(c *gin.Context) {
	p, err := h.archive.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		h.logger.Error("get poll", zap.String("poll_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to fetch poll")
		return
	}
	response.OK(c, WithStats(*p))
}

// ExportURL handles GET /polls/:id/export-url (pre-signed link to the exported JSON).
func (h *Handler) ExportURL(c *gin.Context) {
	if h.exports == nil {
		response.ServiceUnavailable(c, "archive export is not configured")
		return
	}
	id := c.Param("id")
	if _, err := h.archive.GetByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		response.Internal(c, "failed to fetch poll")
		return
	}
	url, err := h.exports.ArchiveDownloadURL(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			response.NotFound(c, "export not ready")
			return
		}
		h.logger.Error("archive download url", zap.String("poll_id", id), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"poll_id": id, "url": url})
}

// Status returns a handler for GET /status: the live poll (or null) and the participant count.
func (h *Handler) Status(store *Store, counter ParticipantCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.OK(c, gin.H{
			"poll":         store.GetStatus(),
			"participants": counter.ParticipantCount(),
		})
	}
}
