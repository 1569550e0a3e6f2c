package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
)

const periodColumns = `period_id, opens_at, closes_at, state, reward_pool`

func scanPeriod(row pgx.Row) (*model.VotingPeriod, error) {
	p := &model.VotingPeriod{}
	if err := row.Scan(&p.Id, &p.OpensAt, &p.ClosesAt, &p.State, &p.RewardPool); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) PutPeriod(ctx context.Context, period *model.VotingPeriod) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `INSERT into periods(period_id, opens_at, closes_at, state, reward_pool)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (period_id) DO NOTHING`,
			period.Id, period.OpensAt.UTC(), period.ClosesAt.UTC(), period.State, period.RewardPool)
		return errors.Wrapf(err, "failed to record period %s", period.Id)
	})
}

func (s *PostgresStore) GetPeriod(ctx context.Context, id model.PeriodId) (*model.VotingPeriod, error) {
	var period *model.VotingPeriod
	return period, DoQuery(ctx, func(conn *pgx.Conn) error {
		p, err := scanPeriod(conn.QueryRow(ctx,
			`SELECT `+periodColumns+` FROM periods WHERE period_id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to fetch period %s", id)
		}
		period = p
		return nil
	})
}

// OpenPeriodAt returns the open period whose window contains t, earliest
// opener first when windows overlap.
func (s *PostgresStore) OpenPeriodAt(ctx context.Context, t time.Time) (*model.VotingPeriod, error) {
	var period *model.VotingPeriod
	return period, DoQuery(ctx, func(conn *pgx.Conn) error {
		p, err := scanPeriod(conn.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods
			WHERE state = 'open' AND opens_at <= $1 AND closes_at > $1
			ORDER BY opens_at LIMIT 1`, t.UTC()))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to fetch open period")
		}
		period = p
		return nil
	})
}

func (s *PostgresStore) ListPeriods(ctx context.Context) ([]*model.VotingPeriod, error) {
	var fetched []*model.VotingPeriod
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+periodColumns+` FROM periods ORDER BY opens_at`)
		if err != nil {
			return errors.Wrap(err, "failed to fetch periods from database")
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPeriod(rows)
			if err != nil {
				return errors.Wrap(err, "failed unmarshalling period")
			}
			fetched = append(fetched, p)
		}
		return rows.Err()
	})
}

// AdvancePeriodState is a compare-and-set on the period state machine.
func (s *PostgresStore) AdvancePeriodState(ctx context.Context, id model.PeriodId, from, to model.PeriodState) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE periods SET state = $1 WHERE period_id = $2 AND state = $3`,
			to, id, from)
		if err != nil {
			return errors.Wrapf(err, "failed to advance period %s", id)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		existing, err := s.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			return model.ErrPeriodNotFound
		case from == model.PeriodOpen:
			return model.ErrPeriodNotOpen
		default:
			return model.ErrPeriodNotClosed
		}
	})
}

func (s *PostgresStore) PutRewardShares(ctx context.Context, shares []*model.RewardShare) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		rows := [][]any{}
		for _, share := range shares {
			rows = append(rows, []any{share.Period, share.Voter, share.Weight, share.Amount})
		}
		_, err := conn.CopyFrom(ctx, pgx.Identifier{"reward_shares"},
			[]string{"period_id", "voter", "weight", "amount"}, pgx.CopyFromRows(rows))
		if err != nil {
			return errors.Wrap(err, "failed to write reward shares")
		}
		return nil
	})
}

func (s *PostgresStore) SharesByPeriod(ctx context.Context, period model.PeriodId) ([]*model.RewardShare, error) {
	var fetched []*model.RewardShare
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT period_id, voter, weight, amount
			FROM reward_shares WHERE period_id = $1 ORDER BY voter`, period)
		if err != nil {
			return errors.Wrap(err, "failed to fetch reward shares from database")
		}
		defer rows.Close()
		for rows.Next() {
			share := &model.RewardShare{}
			if err := rows.Scan(&share.Period, &share.Voter, &share.Weight, &share.Amount); err != nil {
				return errors.Wrap(err, "failed unmarshalling reward share")
			}
			fetched = append(fetched, share)
		}
		return rows.Err()
	})
}
