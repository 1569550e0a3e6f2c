package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
)

func (s *PostgresStore) TaintDay(ctx context.Context, taint *model.DayTaint) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `INSERT into day_taints(voter, day_key, reason, at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (voter, day_key) DO NOTHING`,
			taint.Voter, taint.Day, taint.Reason, taint.At.UTC())
		return errors.Wrapf(err, "failed to record taint for voter %s", taint.Voter)
	})
}

func (s *PostgresStore) Taints(ctx context.Context) ([]*model.DayTaint, error) {
	var fetched []*model.DayTaint
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT voter, day_key, reason, at FROM day_taints ORDER BY at`)
		if err != nil {
			return errors.Wrap(err, "failed to fetch taints from database")
		}
		defer rows.Close()
		for rows.Next() {
			taint := &model.DayTaint{}
			if err := rows.Scan(&taint.Voter, &taint.Day, &taint.Reason, &taint.At); err != nil {
				return errors.Wrap(err, "failed unmarshalling taint")
			}
			fetched = append(fetched, taint)
		}
		return rows.Err()
	})
}
