package polls

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
)

// DefaultArchiveTimeout bounds the archive write in EndPoll when none is configured.
const DefaultArchiveTimeout = 10 * time.Second

// Archive stores ended polls durably and returns the archive-assigned id.
type Archive interface {
	Save(ctx context.Context, p *models.ArchivedPoll) (string, error)
}

// session is the mutable in-flight poll. Only Store touches it, under Store.mu.
type session struct {
	id          string
	question    string
	options     []string
	optionSet   map[string]struct{}
	responses   []models.Response
	byName      map[string]int // participant name -> index into responses
	submissions int
	createdAt   time.Time
}

// Store holds at most one active poll session. All operations are serialized by a single mutex.
type Store struct {
	mu             sync.Mutex
	current        *session
	archive        Archive
	archiveTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewStore creates an empty session store backed by archive.
func NewStore(archive Archive, archiveTimeout time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if archiveTimeout <= 0 {
		archiveTimeout = DefaultArchiveTimeout
	}
	return &Store{
		archive:        archive,
		archiveTimeout: archiveTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// StartPoll creates a new active session. An already active session is replaced without being archived.
func (s *Store) StartPoll(question string, options []string) (*models.Session, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	}
	opts := make([]string, 0, len(options))
	set := make(map[string]struct{}, len(options))
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if _, dup := set[o]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", ErrValidation, o)
		}
		set[o] = struct{}{}
		opts = append(opts, o)
	}
	if len(opts) < 2 {
		return nil, fmt.Errorf("%w: at least 2 options are required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// TODO: reject with a conflict once clients ask for confirmation before discarding a live poll.
	if prev := s.current; prev != nil {
		s.logger.Warn("active poll replaced without archiving",
			zap.String("session_id", prev.id),
			zap.Int("discarded_responses", len(prev.responses)))
	}
	s.current = &session{
		id:        uuid.New().String(),
		question:  question,
		options:   opts,
		optionSet: set,
		byName:    make(map[string]int),
		createdAt: s.now(),
	}
	s.logger.Info("poll started", zap.String("session_id", s.current.id), zap.String("question", question))
	return s.current.snapshot(), nil
}

// SubmitAnswer records name's answer, overwriting any earlier answer from the same name.
func (s *Store) SubmitAnswer(name, answer string) (*models.PollUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current
	if cur == nil {
		return nil, ErrNoActivePoll
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: student name is required", ErrValidation)
	}
	if _, ok := cur.optionSet[answer]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOption, answer)
	}

	now := s.now()
	if i, ok := cur.byName[name]; ok {
		cur.responses[i].Answer = answer
		cur.responses[i].Timestamp = now
	} else {
		cur.byName[name] = len(cur.responses)
		cur.responses = append(cur.responses, models.Response{StudentName: name, Answer: answer, Timestamp: now})
	}
	cur.submissions++

	stats := ComputeStats(cur.options, cur.responses)
	s.logger.Debug("answer recorded", zap.String("session_id", cur.id), zap.String("student", name), zap.String("answer", answer))
	return &models.PollUpdate{
		StudentName: name,
		Answer:      answer,
		Total:       stats.Total,
		OptionStats: stats.OptionStats,
		Submissions: cur.submissions,
	}, nil
}

// EndPoll clears the active session and archives its final snapshot. The store is Empty as soon as
// EndPoll returns, even when the archive write fails; in that case the snapshot is returned without
// a PollID together with an error wrapping ErrPersistence.
func (s *Store) EndPoll(ctx context.Context) (*models.PollResult, error) {
	s.mu.Lock()
	cur := s.current
	if cur == nil {
		s.mu.Unlock()
		return nil, ErrNoActivePoll
	}
	s.current = nil
	endedAt := s.now()
	s.mu.Unlock()

	stats := ComputeStats(cur.options, cur.responses)
	result := &models.PollResult{
		Question:    cur.question,
		Options:     cloneStrings(cur.options),
		Responses:   cloneResponses(cur.responses),
		OptionStats: stats.OptionStats,
		Total:       stats.Total,
		Submissions: cur.submissions,
		CreatedAt:   cur.createdAt,
		EndedAt:     endedAt,
	}

	ctx, cancel := context.WithTimeout(ctx, s.archiveTimeout)
	defer cancel()
	id, err := s.archive.Save(ctx, &models.ArchivedPoll{
		Question:  result.Question,
		Options:   cloneStrings(result.Options),
		Responses: cloneResponses(result.Responses),
		CreatedAt: cur.createdAt,
		EndedAt:   &endedAt,
		IsActive:  false,
	})
	if err != nil {
		s.logger.Error("archive poll failed", zap.String("session_id", cur.id), zap.Error(err))
		return result, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	result.PollID = id
	s.logger.Info("poll ended", zap.String("session_id", cur.id), zap.String("poll_id", id), zap.Int("responses", stats.Total))
	return result, nil
}

// GetStatus returns the active session with a fresh tally, or nil when there is none.
func (s *Store) GetStatus() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.snapshot()
}

// Active reports whether a session is in progress.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (ss *session) snapshot() *models.Session {
	stats := ComputeStats(ss.options, ss.responses)
	return &models.Session{
		ID:          ss.id,
		Question:    ss.question,
		Options:     cloneStrings(ss.options),
		Responses:   cloneResponses(ss.responses),
		OptionStats: stats.OptionStats,
		Total:       stats.Total,
		Submissions: ss.submissions,
		CreatedAt:   ss.createdAt,
		IsActive:    true,
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneResponses(in []models.Response) []models.Response {
	out := make([]models.Response, len(in))
	copy(out, in)
	return out
}
