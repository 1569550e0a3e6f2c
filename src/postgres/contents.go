package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
)

func (s *PostgresStore) PutContent(ctx context.Context, content *model.Content) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		// re-registration keeps the existing row, moderation included
		_, err := conn.Exec(ctx, `INSERT into contents(content_id, submitter, created_at, moderation)
		VALUES ($1, $2, $3, $4) ON CONFLICT (content_id) DO NOTHING`,
			content.Id, content.Submitter, content.CreatedAt.UTC(), content.Moderation)
		return errors.Wrapf(err, "failed to register content %s", content.Id)
	})
}

func (s *PostgresStore) GetContent(ctx context.Context, id model.ContentId) (*model.Content, error) {
	var content *model.Content
	return content, DoQuery(ctx, func(conn *pgx.Conn) error {
		c := &model.Content{}
		err := conn.QueryRow(ctx, `SELECT content_id, submitter, created_at, moderation
			FROM contents WHERE content_id = $1`, id).
			Scan(&c.Id, &c.Submitter, &c.CreatedAt, &c.Moderation)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to fetch content %s", id)
		}
		content = c
		return nil
	})
}

func (s *PostgresStore) SetModeration(ctx context.Context, id model.ContentId, state model.ModerationState) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE contents SET moderation = $1 WHERE content_id = $2`, state, id)
		if err != nil {
			return errors.Wrapf(err, "failed to update moderation for content %s", id)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrContentNotFound
		}
		return nil
	})
}
