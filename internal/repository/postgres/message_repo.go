package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/ideahub/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Create appends msg under a per-team advisory lock so that seq order equals
// commit order even with several server instances writing to the same team.
// msg.CreatedAt is rewritten to the stored value: microsecond precision and
// never earlier than the previous message's.
func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, msg.TeamID.String()); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO message_cursors (team_id, next_seq)
		VALUES ($1, 2)
		ON CONFLICT (team_id) DO UPDATE SET next_seq = message_cursors.next_seq + 1
		RETURNING next_seq - 1`, msg.TeamID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocating seq: %w", err)
	}

	createdAt := msg.CreatedAt.Truncate(time.Microsecond)
	if seq > 1 {
		var prev time.Time
		err := tx.QueryRow(ctx, `SELECT created_at FROM messages WHERE team_id = $1 AND seq = $2`,
			msg.TeamID, seq-1).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("loading previous message: %w", err)
		}
		if prev.After(createdAt) {
			createdAt = prev
		}
	}

	query := `
		INSERT INTO messages (id, team_id, seq, sender_id, sender_display_name, sender_username,
			sender_avatar_url, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.Exec(ctx, query,
		msg.ID, msg.TeamID, seq, msg.SenderID, msg.Sender.DisplayName, msg.Sender.Username,
		msg.Sender.AvatarURL, msg.Text, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	msg.Seq = seq
	msg.CreatedAt = createdAt
	return nil
}

func (r *MessageRepo) ListByTeam(ctx context.Context, teamID uuid.UUID, before *int64, limit int) ([]domain.Message, error) {
	var query string
	var args []any

	if before != nil {
		query = fmt.Sprintf(`
			SELECT id, team_id, seq, sender_id, sender_display_name, sender_username,
				sender_avatar_url, text, created_at
			FROM messages
			WHERE team_id = $1 AND seq < $2
			ORDER BY seq DESC
			LIMIT %d`, limit)
		args = []any{teamID, *before}
	} else {
		query = fmt.Sprintf(`
			SELECT id, team_id, seq, sender_id, sender_display_name, sender_username,
				sender_avatar_url, text, created_at
			FROM messages
			WHERE team_id = $1
			ORDER BY seq DESC
			LIMIT %d`, limit)
		args = []any{teamID}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID, &m.TeamID, &m.Seq, &m.SenderID, &m.Sender.DisplayName, &m.Sender.Username,
			&m.Sender.AvatarURL, &m.Text, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	// Query is newest first; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}
