package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/ideahub/internal/domain"
)

// UserRepo reads the users table maintained by the account service.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetSummary(ctx context.Context, id uuid.UUID) (*domain.ProfileSummary, error) {
	query := `SELECT id, display_name, username, avatar_url, bio, skills FROM users WHERE id = $1`

	var u domain.ProfileSummary
	err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.DisplayName, &u.Username, &u.AvatarURL, &u.Bio, &u.Skills)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) ListSummaries(ctx context.Context, ids []uuid.UUID) ([]domain.ProfileSummary, error) {
	if len(ids) == 0 {
		return []domain.ProfileSummary{}, nil
	}

	query := `SELECT id, display_name, username, avatar_url, bio, skills FROM users WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.ProfileSummary
	for rows.Next() {
		var u domain.ProfileSummary
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Username, &u.AvatarURL, &u.Bio, &u.Skills); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
