package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/breez/todo-sync/model"
	log "github.com/sirupsen/logrus"
)

// DeadLetter is a transaction, or the part of one, that the backend
// refused and that will not be retried.
type DeadLetter struct {
	Id        int64              `json:"id"`
	TxId      int64              `json:"tx_id"`
	Ops       []model.MutationOp `json:"ops"`
	Reason    string             `json:"reason"`
	CreatedAt time.Time          `json:"created_at"`
}

// NextTransaction returns the oldest queued transaction, or nil when the
// queue is empty.
func (s *Store) NextTransaction(ctx context.Context) (*model.Transaction, error) {
	var head sql.NullInt64
	err := s.builder.Select("MIN(tx_id)").From("crud").RunWith(s.db).QueryRowContext(ctx).Scan(&head)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}
	if !head.Valid {
		return nil, nil
	}

	rows, err := s.builder.Select("op", "table_name", "row_id", "data", "created_at").
		From("crud").
		Where(sq.Eq{"tx_id": head.Int64}).
		OrderBy("id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %v: %w", head.Int64, err)
	}
	defer rows.Close()

	transaction := &model.Transaction{Id: head.Int64}
	for rows.Next() {
		var (
			op        model.MutationOp
			data      sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&op.Op, &op.Table, &op.Id, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan op: %w", err)
		}
		if data.Valid {
			op.Data = json.RawMessage(data.String)
		}
		op.ClientId = s.clientID
		op.UserId = s.owner
		transaction.Ops = append(transaction.Ops, op)
		transaction.CreatedAt = createdAt
	}
	return transaction, rows.Err()
}

// Complete removes an acknowledged transaction from the queue. Completing
// an unknown or already completed transaction is a no-op.
func (s *Store) Complete(ctx context.Context, txID int64) error {
	_, err := s.builder.Delete("crud").Where(sq.Eq{"tx_id": txID}).RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete transaction %v: %w", txID, err)
	}
	return nil
}

// DeadLetter records ops of transaction txID as refused and removes the
// whole transaction from the queue, atomically.
func (s *Store) DeadLetter(ctx context.Context, txID int64, ops []model.MutationOp, reason string) error {
	encoded, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = s.builder.Insert("crud_dead_letter").
		Columns("tx_id", "ops", "reason", "created_at").
		Values(txID, string(encoded), reason, s.now().UTC()).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	if _, err := s.builder.Delete("crud").Where(sq.Eq{"tx_id": txID}).RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to dequeue transaction %v: %w", txID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.WithFields(log.Fields{"tx_id": txID, "ops": len(ops)}).Errorf("transaction dead-lettered: %v", reason)
	return nil
}

func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.builder.Select("id", "tx_id", "ops", "reason", "created_at").
		From("crud_dead_letter").
		OrderBy("id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]DeadLetter, 0)
	for rows.Next() {
		var (
			letter DeadLetter
			ops    string
		)
		if err := rows.Scan(&letter.Id, &letter.TxId, &ops, &letter.Reason, &letter.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(ops), &letter.Ops); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter %v: %w", letter.Id, err)
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// PendingCount is the number of queued transactions.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.builder.Select("COUNT(DISTINCT tx_id)").From("crud").RunWith(s.db).QueryRowContext(ctx).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// ErrPendingChanges is returned by Reset while the queue still holds
// transactions the server has not acknowledged.
var ErrPendingChanges = errors.New("unacknowledged transactions are queued")

// Reset clears the replica so it can be rebuilt. It refuses while the
// queue is not empty. Dead letters are kept.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pending int
	err = s.builder.Select("COUNT(DISTINCT tx_id)").From("crud").RunWith(tx).QueryRowContext(ctx).Scan(&pending)
	if err != nil {
		return fmt.Errorf("failed to count queue: %w", err)
	}
	if pending > 0 {
		return fmt.Errorf("%w: %v pending", ErrPendingChanges, pending)
	}
	if _, err := s.builder.Delete("todo").RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to clear todo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.events.notifyChange()
	return nil
}
