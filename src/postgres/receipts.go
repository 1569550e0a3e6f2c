package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
)

const receiptColumns = `receipt_id, voter, amount, observed_at, confirmed, block_ref, claimed_by`

func scanReceipt(row pgx.Row) (*model.BurnReceipt, error) {
	r := &model.BurnReceipt{}
	var claimedBy *string
	if err := row.Scan(&r.Id, &r.Voter, &r.Amount, &r.ObservedAt,
		&r.Confirmed, &r.BlockRef, &claimedBy); err != nil {
		return nil, err
	}
	if claimedBy != nil {
		eid := model.EventId(*claimedBy)
		r.ClaimedBy = &eid
	}
	return r, nil
}

func (s *PostgresStore) PutReceipt(ctx context.Context, receipt *model.BurnReceipt) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `INSERT into burn_receipts(receipt_id, voter, amount, observed_at, confirmed, block_ref)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (receipt_id) DO NOTHING`,
			receipt.Id, receipt.Voter, receipt.Amount, receipt.ObservedAt.UTC(),
			receipt.Confirmed, receipt.BlockRef)
		return errors.Wrapf(err, "failed to record receipt %s", receipt.Id)
	})
}

func (s *PostgresStore) GetReceipt(ctx context.Context, id model.ReceiptId) (*model.BurnReceipt, error) {
	var receipt *model.BurnReceipt
	return receipt, DoQuery(ctx, func(conn *pgx.Conn) error {
		r, err := scanReceipt(conn.QueryRow(ctx,
			`SELECT `+receiptColumns+` FROM burn_receipts WHERE receipt_id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to fetch receipt %s", id)
		}
		receipt = r
		return nil
	})
}

func (s *PostgresStore) ConfirmReceipt(ctx context.Context, id model.ReceiptId, blockRef string, at time.Time) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE burn_receipts SET confirmed = TRUE, block_ref = $1, observed_at = $2
			WHERE receipt_id = $3`, blockRef, at.UTC(), id)
		if err != nil {
			return errors.Wrapf(err, "failed to confirm receipt %s", id)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrReceiptNotFound
		}
		return nil
	})
}

// ClaimReceipt is the conservation gate: a compare-and-set on claimed_by so a
// receipt backs at most one vote event. A repeated claim by the same event is
// a no-op returning the receipt again.
func (s *PostgresStore) ClaimReceipt(ctx context.Context, id model.ReceiptId, voter model.VoterId, event model.EventId) (*model.BurnReceipt, error) {
	var receipt *model.BurnReceipt
	return receipt, DoQuery(ctx, func(conn *pgx.Conn) error {
		r, err := scanReceipt(conn.QueryRow(ctx, `UPDATE burn_receipts SET claimed_by = $1
			WHERE receipt_id = $2 AND voter = $3 AND (claimed_by IS NULL OR claimed_by = $1)
			RETURNING `+receiptColumns, event, id, voter))
		if err == nil {
			receipt = r
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(err, "failed to claim receipt %s", id)
		}
		// the CAS missed; look at the row to say why
		existing, err := s.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			return model.ErrReceiptNotFound
		case existing.Voter != voter:
			return model.ErrReceiptMismatch
		default:
			return model.ErrReceiptConsumed
		}
	})
}

func (s *PostgresStore) ReleaseReceipt(ctx context.Context, id model.ReceiptId, event model.EventId) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `UPDATE burn_receipts SET claimed_by = NULL
			WHERE receipt_id = $1 AND claimed_by = $2`, id, event)
		return errors.Wrapf(err, "failed to release receipt %s", id)
	})
}

func (s *PostgresStore) ReceiptsByVoterDay(ctx context.Context, voter model.VoterId, from, to time.Time) ([]*model.BurnReceipt, error) {
	var fetched []*model.BurnReceipt
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+receiptColumns+` FROM burn_receipts
			WHERE voter = $1 AND observed_at >= $2 AND observed_at < $3 ORDER BY observed_at`,
			voter, from.UTC(), to.UTC())
		if err != nil {
			return errors.Wrap(err, "failed to fetch receipts from database")
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanReceipt(rows)
			if err != nil {
				return errors.Wrap(err, "failed unmarshalling receipt")
			}
			fetched = append(fetched, r)
		}
		return rows.Err()
	})
}

func (s *PostgresStore) AllReceipts(ctx context.Context) ([]*model.BurnReceipt, error) {
	var fetched []*model.BurnReceipt
	return fetched, DoQuery(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+receiptColumns+` FROM burn_receipts ORDER BY observed_at`)
		if err != nil {
			return errors.Wrap(err, "failed to fetch receipts from database")
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanReceipt(rows)
			if err != nil {
				return errors.Wrap(err, "failed unmarshalling receipt")
			}
			fetched = append(fetched, r)
		}
		return rows.Err()
	})
}

// PruneReceipts drops consumed receipts older than the cutoff. Unclaimed
// receipts stay, they may still back a future vote.
func (s *PostgresStore) PruneReceipts(ctx context.Context, before time.Time) (int64, error) {
	var pruned int64
	return pruned, DoQuery(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM burn_receipts
			WHERE claimed_by IS NOT NULL AND observed_at < $1`, before.UTC())
		if err != nil {
			return errors.Wrap(err, "failed to prune receipts")
		}
		pruned = tag.RowsAffected()
		return nil
	})
}

func (s *PostgresStore) PutBurnTx(ctx context.Context, tx *model.BurnTx) error {
	return DoQuery(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `INSERT into burn_txs(tx_id, voter, amount, block_hash, ts)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (tx_id) DO NOTHING`,
			tx.TxId, tx.Voter, tx.Amount, tx.BlockHash, tx.Timestamp.UTC())
		return errors.Wrapf(err, "failed to record burn tx %s", tx.TxId)
	})
}

func (s *PostgresStore) GetBurnTx(ctx context.Context, id model.ReceiptId) (*model.BurnTx, error) {
	var burnTx *model.BurnTx
	return burnTx, DoQuery(ctx, func(conn *pgx.Conn) error {
		tx := &model.BurnTx{}
		err := conn.QueryRow(ctx, `SELECT tx_id, voter, amount, block_hash, ts
			FROM burn_txs WHERE tx_id = $1`, id).
			Scan(&tx.TxId, &tx.Voter, &tx.Amount, &tx.BlockHash, &tx.Timestamp)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to fetch burn tx %s", id)
		}
		burnTx = tx
		return nil
	})
}
