package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const receiptColumns = `seq, collection, doc_id, op, backend, pending, doc_updated_at, created_at, resolved_at`

// RecordReceipt appends a receipt and returns its sequence number. Sequence
// numbers increase monotonically for the life of the ledger file.
func (s *Store) RecordReceipt(ctx context.Context, r Receipt) (int64, error) {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (collection, doc_id, op, backend, pending, doc_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Collection, r.DocID, r.Op, r.Backend, boolToInt(r.Pending), r.DocUpdatedAt,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("recording receipt for %s/%s: %w", r.Collection, r.DocID, err)
	}
	return res.LastInsertId()
}

// HasPending reports whether the document has an unreconciled local copy.
func (s *Store) HasPending(ctx context.Context, collection, docID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM receipts WHERE collection = ? AND doc_id = ? AND pending = 1`,
		collection, docID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PendingReceipts returns the newest pending receipt of every document that
// still awaits reconciliation, ordered by sequence. An empty collection
// matches all collections.
func (s *Store) PendingReceipts(ctx context.Context, collection string) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE seq IN (
			SELECT MAX(seq) FROM receipts
			WHERE pending = 1 AND (? = '' OR collection = ?)
			GROUP BY collection, doc_id
		)
		ORDER BY seq ASC`, collection, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolvePending marks every pending receipt of the document as reconciled.
func (s *Store) ResolvePending(ctx context.Context, collection, docID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET pending = 0, resolved_at = ? WHERE collection = ? AND doc_id = ? AND pending = 1`,
		time.Now().UTC().Format(time.RFC3339Nano), collection, docID,
	)
	return err
}

// CountPending returns the number of documents with unreconciled local copies.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT 1 FROM receipts WHERE pending = 1 GROUP BY collection, doc_id)`,
	).Scan(&n)
	return n, err
}

// ReceiptsFor returns every receipt of a document, oldest first.
func (s *Store) ReceiptsFor(ctx context.Context, collection, docID string) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE collection = ? AND doc_id = ? ORDER BY seq ASC`,
		collection, docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceipt(rows *sql.Rows) (Receipt, error) {
	var r Receipt
	var pending int
	var createdAt string
	var resolvedAt sql.NullString
	if err := rows.Scan(&r.Seq, &r.Collection, &r.DocID, &r.Op, &r.Backend, &pending, &r.DocUpdatedAt, &createdAt, &resolvedAt); err != nil {
		return Receipt{}, err
	}
	r.Pending = pending == 1
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Receipt{}, fmt.Errorf("parsing created_at for receipt %d: %w", r.Seq, err)
	}
	r.CreatedAt = t
	if resolvedAt.Valid {
		rt, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err != nil {
			return Receipt{}, fmt.Errorf("parsing resolved_at for receipt %d: %w", r.Seq, err)
		}
		r.ResolvedAt = &rt
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
