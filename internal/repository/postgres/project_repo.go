package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/ideahub/internal/domain"
)

type ProjectRepo struct {
	db DBTX
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return newProjectRepo(pool)
}

func newProjectRepo(db DBTX) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func (r *ProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	query := `
		INSERT INTO projects (id, title, owner_id, capacity_enabled, capacity_max, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.Title, p.OwnerID, p.Capacity.Enabled, p.Capacity.MaxSize, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, memberID := range p.Members {
		if err := r.AddMember(ctx, p.ID, memberID, p.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	query := `
		SELECT id, title, owner_id, capacity_enabled, capacity_max, created_at, updated_at
		FROM projects WHERE id = $1`

	var p domain.Project
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.OwnerID, &p.Capacity.Enabled, &p.Capacity.MaxSize, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if p.Members, err = r.listMemberIDs(ctx, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Project, error) {
	query := `
		SELECT p.id, p.title, p.owner_id, p.capacity_enabled, p.capacity_max, p.created_at, p.updated_at
		FROM projects p
		WHERE p.owner_id = $1
		   OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1)
		ORDER BY p.updated_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Title, &p.OwnerID, &p.Capacity.Enabled, &p.Capacity.MaxSize, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		projects = append(projects, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range projects {
		if projects[i].Members, err = r.listMemberIDs(ctx, projects[i].ID); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

func (r *ProjectRepo) AddMember(ctx context.Context, projectID, userID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO project_members (project_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, projectID, userID, at); err != nil {
		return err
	}
	return r.touch(ctx, projectID, at)
}

func (r *ProjectRepo) RemoveMember(ctx context.Context, projectID, userID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return err
	}
	return r.touch(ctx, projectID, at)
}

func (r *ProjectRepo) UpdateCapacity(ctx context.Context, projectID uuid.UUID, rule domain.CapacityRule, at time.Time) error {
	query := `
		UPDATE projects
		SET capacity_enabled = $1, capacity_max = $2, updated_at = $3
		WHERE id = $4`
	_, err := r.db.Exec(ctx, query, rule.Enabled, rule.MaxSize, at, projectID)
	return err
}

func (r *ProjectRepo) touch(ctx context.Context, projectID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE projects SET updated_at = $1 WHERE id = $2`, at, projectID)
	return err
}

func (r *ProjectRepo) listMemberIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM project_members WHERE project_id = $1 ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}
