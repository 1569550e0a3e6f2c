package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
)

const eventColumns = `event_id, voter, content, kind, burn_amount, day_key, ts, receipt_ref`

func scanEvent(rows pgx.Rows) (*model.VoteEvent, error) {
	ev := &model.VoteEvent{}
	var receiptRef *string
	if err := rows.Scan(&ev.EventId, &ev.Voter, &ev.Content, &ev.Kind,
		&ev.BurnAmount, &ev.Day, &ev.Timestamp, &receiptRef); err != nil {
		return nil, errors.Wrap(err, "failed unmarshalling vote event")
	}
	if receiptRef != nil {
		ref := model.ReceiptId(*receiptRef)
		ev.ReceiptRef = &ref
	}
	return ev, nil
}

func queryEvents(ctx context.Context, query string, args ...any) ([]*model.VoteEvent, error) {
	var fetched []*model.VoteEvent
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, "failed to fetch vote events from database")
		}
		defer rows.Close()
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				return err
			}
			fetched = append(fetched, ev)
		}
		return rows.Err()
	})
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *model.VoteEvent) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		var receiptRef *string
		if event.ReceiptRef != nil {
			ref := string(*event.ReceiptRef)
			receiptRef = &ref
		}
		_, err := conn.Exec(ctx, `INSERT into vote_events(event_id, voter, content, kind, burn_amount, day_key, ts, receipt_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			event.EventId, event.Voter, event.Content, event.Kind,
			event.BurnAmount, event.Day, event.Timestamp.UTC(), receiptRef)
		switch {
		case err == nil:
			return nil
		case isUniqueViolation(err, "vote_events_pkey"):
			return model.ErrDuplicateEvent
		case isUniqueViolation(err, "one_base_vote_per_day"):
			return model.ErrDuplicateBaseVote
		case isUniqueViolation(err, "one_event_per_receipt"):
			return model.ErrReceiptConsumed
		default:
			return errors.Wrapf(err, "failed to record vote for voter %s", event.Voter)
		}
	})
}

func (s *PostgresStore) GetEvent(ctx context.Context, id model.EventId) (*model.VoteEvent, error) {
	events, err := queryEvents(ctx, `SELECT `+eventColumns+` FROM vote_events WHERE event_id = $1`, id)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[0], nil
}

func (s *PostgresStore) DailyCounts(ctx context.Context, voter model.VoterId, day model.DayKey) (uint64, uint64, error) {
	var baseUsed, burnUsed uint64
	return baseUsed, burnUsed, DoQuery(ctx, func(conn *pgx.Conn) error {
		err := conn.QueryRow(ctx, `SELECT
			COUNT(*) FILTER (WHERE kind = 'base'),
			COALESCE(SUM(burn_amount) FILTER (WHERE kind = 'burn'), 0)
			FROM vote_events WHERE voter = $1 AND day_key = $2`, voter, day).
			Scan(&baseUsed, &burnUsed)
		return errors.Wrapf(err, "failed to fetch daily counts for voter %s", voter)
	})
}

func (s *PostgresStore) EventsByVoterDay(ctx context.Context, voter model.VoterId, day model.DayKey, limit int) ([]*model.VoteEvent, error) {
	// limit 0 means unlimited; a positive limit keeps the most recent events
	return queryEvents(ctx, `SELECT `+eventColumns+` FROM (
		SELECT `+eventColumns+` FROM vote_events
		WHERE voter = $1 AND day_key = $2
		ORDER BY ts DESC LIMIT NULLIF($3, 0)) recent ORDER BY ts`, voter, day, limit)
}

func (s *PostgresStore) EventsByDay(ctx context.Context, day model.DayKey) ([]*model.VoteEvent, error) {
	return queryEvents(ctx, `SELECT `+eventColumns+` FROM vote_events
		WHERE day_key = $1 ORDER BY ts`, day)
}

func (s *PostgresStore) EventsByContentWindow(ctx context.Context, content model.ContentId, from, to time.Time) ([]*model.VoteEvent, error) {
	return queryEvents(ctx, `SELECT `+eventColumns+` FROM vote_events
		WHERE content = $1 AND ts >= $2 AND ts < $3 ORDER BY ts`, content, from.UTC(), to.UTC())
}

func (s *PostgresStore) EventsByPeriod(ctx context.Context, period model.PeriodId, filter store.EventFilter, fn func(*model.VoteEvent) error) error {
	p, err := s.GetPeriod(ctx, period)
	if err != nil {
		return err
	}
	if p == nil {
		return model.ErrPeriodNotFound
	}
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+eventColumns+` FROM vote_events
			WHERE ts >= $1 AND ts < $2 ORDER BY ts`, p.OpensAt, p.ClosesAt)
		if err != nil {
			return errors.Wrap(err, "failed to fetch vote events from database")
		}
		defer rows.Close()
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				return err
			}
			if !filter.Matches(ev) {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

const candidateAggregate = `SELECT c.content_id, c.submitter, c.created_at,
	COUNT(*) FILTER (WHERE v.kind = 'base'),
	COALESCE(SUM(v.burn_amount) FILTER (WHERE v.kind = 'burn'), 0),
	COUNT(DISTINCT v.voter),
	MAX(v.ts)
	FROM vote_events v JOIN contents c ON c.content_id = v.content
	WHERE v.ts >= $1 AND v.ts < $2`

func scanCandidates(rows pgx.Rows) ([]*model.Candidate, error) {
	var fetched []*model.Candidate
	for rows.Next() {
		c := &model.Candidate{}
		if err := rows.Scan(&c.Content, &c.Submitter, &c.CreatedAt,
			&c.BaseVotes, &c.BurnWeight, &c.DistinctVoters, &c.LastVoteAt); err != nil {
			return nil, errors.Wrap(err, "failed unmarshalling candidate")
		}
		fetched = append(fetched, c)
	}
	return fetched, rows.Err()
}

func (s *PostgresStore) CandidateCounts(ctx context.Context, period model.PeriodId, content model.ContentId) (*model.Candidate, error) {
	p, err := s.GetPeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.ErrPeriodNotFound
	}
	var candidate *model.Candidate
	return candidate, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, candidateAggregate+` AND v.content = $3 GROUP BY 1, 2, 3`,
			p.OpensAt, p.ClosesAt, content)
		if err != nil {
			return errors.Wrap(err, "failed to fetch candidate from database")
		}
		defer rows.Close()
		candidates, err := scanCandidates(rows)
		if err != nil {
			return err
		}
		if len(candidates) > 0 {
			candidate = candidates[0]
		}
		return nil
	})
}

func (s *PostgresStore) Candidates(ctx context.Context, period model.PeriodId) ([]*model.Candidate, error) {
	p, err := s.GetPeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.ErrPeriodNotFound
	}
	var fetched []*model.Candidate
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, candidateAggregate+` GROUP BY 1, 2, 3`, p.OpensAt, p.ClosesAt)
		if err != nil {
			return errors.Wrap(err, "failed to fetch candidates from database")
		}
		defer rows.Close()
		fetched, err = scanCandidates(rows)
		return err
	})
}
