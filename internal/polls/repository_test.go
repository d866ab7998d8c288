package polls

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/database"
)

// newTestRepository connects to DATABASE_URL and applies migrations. Tests are skipped without it.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	return NewRepository(pool)
}

func deletePoll(t *testing.T, r *Repository, id string) {
	t.Cleanup(func() {
		_, err := r.pool.Exec(context.Background(), `DELETE FROM polls WHERE id = $1`, uuid.MustParse(id))
		assert.NoError(t, err)
	})
}

func TestRepositorySaveAndGet(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Microsecond)
	ended := created.Add(time.Minute)
	id, err := r.Save(ctx, &models.ArchivedPoll{
		Question: "Pick one",
		Options:  []string{"A", "B"},
		Responses: []models.Response{
			{StudentName: "x", Answer: "B", Timestamp: created.Add(3 * time.Second)},
			{StudentName: "y", Answer: "A", Timestamp: created.Add(2 * time.Second)},
		},
		CreatedAt: created,
		EndedAt:   &ended,
	})
	require.NoError(t, err)
	deletePoll(t, r, id)

	got, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Pick one", got.Question)
	assert.Equal(t, []string{"A", "B"}, got.Options)
	assert.False(t, got.IsActive)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.EndedAt)
	assert.True(t, ended.Equal(*got.EndedAt))

	// Stored order is insertion order, not answer time.
	require.Len(t, got.Responses, 2)
	assert.Equal(t, "x", got.Responses[0].StudentName)
	assert.Equal(t, "B", got.Responses[0].Answer)
	assert.Equal(t, "y", got.Responses[1].StudentName)
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, WithStats(*got).OptionStats)
}

func TestRepositorySaveWithoutResponses(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	ended := time.Now().UTC()
	id, err := r.Save(ctx, &models.ArchivedPoll{Question: "Nobody answered", Options: []string{"Yes", "No"}, CreatedAt: ended, EndedAt: &ended})
	require.NoError(t, err)
	deletePoll(t, r, id)

	got, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got.Responses)
	assert.Empty(t, got.Responses)
}

func TestRepositoryListAllGroupsResponsesNewestFirst(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	older, err := r.Save(ctx, &models.ArchivedPoll{
		Question:  "older",
		Options:   []string{"A", "B"},
		Responses: []models.Response{{StudentName: "x", Answer: "A", Timestamp: base}},
		CreatedAt: base,
		EndedAt:   &base,
	})
	require.NoError(t, err)
	deletePoll(t, r, older)

	newerAt := base.Add(time.Minute)
	newer, err := r.Save(ctx, &models.ArchivedPoll{
		Question: "newer",
		Options:  []string{"A", "B"},
		Responses: []models.Response{
			{StudentName: "x", Answer: "B", Timestamp: newerAt},
			{StudentName: "y", Answer: "B", Timestamp: newerAt},
		},
		CreatedAt: newerAt,
		EndedAt:   &newerAt,
	})
	require.NoError(t, err)
	deletePoll(t, r, newer)

	list, err := r.ListAll(ctx)
	require.NoError(t, err)
	byID := make(map[string]int)
	for i, p := range list {
		byID[p.ID] = i
	}
	require.Contains(t, byID, older)
	require.Contains(t, byID, newer)
	assert.Less(t, byID[newer], byID[older])
	assert.Len(t, list[byID[older]].Responses, 1)
	assert.Len(t, list[byID[newer]].Responses, 2)
	assert.Equal(t, "newer", list[byID[newer]].Question)
}

func TestRepositoryGetByIDNotFound(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	_, err := r.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}
