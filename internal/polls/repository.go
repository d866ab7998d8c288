package polls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
)

// Repository is the Postgres-backed poll archive.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts an ended poll and its responses in one transaction and returns the new id.
func (r *Repository) Save(ctx context.Context, p *models.ArchivedPoll) (string, error) {
	var id string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `INSERT INTO polls (id, question, options, created_at, ended_at, is_active)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, FALSE)
			RETURNING id::text`
		if err := tx.QueryRow(ctx, query, p.Question, p.Options, p.CreatedAt, p.EndedAt).Scan(&id); err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		if len(p.Responses) == 0 {
			return nil
		}
		pollID, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("parse poll id: %w", err)
		}
		rows := make([][]any, 0, len(p.Responses))
		for i, resp := range p.Responses {
			rows = append(rows, []any{pollID, int32(i), resp.StudentName, resp.Answer, resp.Timestamp})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"poll_responses"},
			[]string{"poll_id", "position", "student_name", "answer", "answered_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy responses: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListAll returns every archived poll, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]models.ArchivedPoll, error) {
	const query = `SELECT id::text, question, options, created_at, ended_at, is_active
		FROM polls ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.ArchivedPoll
	index := make(map[string]int)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var p models.ArchivedPoll
		if err := rows.Scan(&p.ID, &p.Question, &p.Options, &p.CreatedAt, &p.EndedAt, &p.IsActive); err != nil {
			return nil, err
		}
		p.Responses = []models.Response{}
		pollID, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, fmt.Errorf("parse poll id: %w", err)
		}
		index[p.ID] = len(list)
		ids = append(ids, pollID)
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return list, nil
	}

	const respQuery = `SELECT poll_id::text, student_name, answer, answered_at
		FROM poll_responses WHERE poll_id = ANY($1::uuid[]) ORDER BY poll_id, position`
	respRows, err := r.pool.Query(ctx, respQuery, ids)
	if err != nil {
		return nil, err
	}
	defer respRows.Close()
	for respRows.Next() {
		var pollID string
		var resp models.Response
		if err := respRows.Scan(&pollID, &resp.StudentName, &resp.Answer, &resp.Timestamp); err != nil {
			return nil, err
		}
		if i, ok := index[pollID]; ok {
			list[i].Responses = append(list[i].Responses, resp)
		}
	}
	return list, respRows.Err()
}

// GetByID returns one archived poll or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.ArchivedPoll, error) {
	pollID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	const query = `SELECT id::text, question, options, created_at, ended_at, is_active
		FROM polls WHERE id = $1`
	var p models.ArchivedPoll
	err = r.pool.QueryRow(ctx, query, pollID).
		Scan(&p.ID, &p.Question, &p.Options, &p.CreatedAt, &p.EndedAt, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	const respQuery = `SELECT student_name, answer, answered_at
		FROM poll_responses WHERE poll_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, respQuery, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	p.Responses = []models.Response{}
	for rows.Next() {
		var resp models.Response
		if err := rows.Scan(&resp.StudentName, &resp.Answer, &resp.Timestamp); err != nil {
			return nil, err
		}
		p.Responses = append(p.Responses, resp)
	}
	return &p, rows.Err()
}
