package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/repository"
)

const uniqueViolation = "23505"

const joinRequestColumns = `id, project_id, project_title, owner_id, requester_id, requester_name, status, created_at, updated_at`

type JoinRequestRepo struct {
	db DBTX
}

func NewJoinRequestRepo(pool *pgxpool.Pool) *JoinRequestRepo {
	return newJoinRequestRepo(pool)
}

func newJoinRequestRepo(db DBTX) *JoinRequestRepo {
	return &JoinRequestRepo{db: db}
}

func (r *JoinRequestRepo) Create(ctx context.Context, req *domain.JoinRequest) error {
	query := `
		INSERT INTO join_requests (` + joinRequestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		req.ID, req.ProjectID, req.ProjectTitle, req.OwnerID, req.RequesterID, req.RequesterName,
		req.Status, req.CreatedAt, req.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

func (r *JoinRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.JoinRequest, error) {
	query := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *JoinRequestRepo) GetByProjectAndRequester(ctx context.Context, projectID, requesterID uuid.UUID) (*domain.JoinRequest, error) {
	query := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE project_id = $1 AND requester_id = $2`
	return r.scanOne(ctx, query, projectID, requesterID)
}

func (r *JoinRequestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JoinRequestStatus, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE join_requests SET status = $1, updated_at = $2 WHERE id = $3`, status, at, id)
	return err
}

func (r *JoinRequestRepo) ListPendingByProject(ctx context.Context, projectID uuid.UUID) ([]domain.JoinRequest, error) {
	query := `
		SELECT ` + joinRequestColumns + `
		FROM join_requests
		WHERE project_id = $1 AND status = 'pending'
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.JoinRequest
	for rows.Next() {
		var req domain.JoinRequest
		if err := scanJoinRequest(rows, &req); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r *JoinRequestRepo) CountPendingByProjects(ctx context.Context, projectIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(projectIDs))
	if len(projectIDs) == 0 {
		return counts, nil
	}

	query := `
		SELECT project_id, COUNT(*)
		FROM join_requests
		WHERE project_id = ANY($1) AND status = 'pending'
		GROUP BY project_id`

	rows, err := r.db.Query(ctx, query, projectIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *JoinRequestRepo) scanOne(ctx context.Context, query string, args ...any) (*domain.JoinRequest, error) {
	var req domain.JoinRequest
	err := scanJoinRequest(r.db.QueryRow(ctx, query, args...), &req)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func scanJoinRequest(row pgx.Row, req *domain.JoinRequest) error {
	return row.Scan(
		&req.ID, &req.ProjectID, &req.ProjectTitle, &req.OwnerID, &req.RequesterID, &req.RequesterName,
		&req.Status, &req.CreatedAt, &req.UpdatedAt,
	)
}
