package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

type txKey struct{}

// Store implements ledger.Store on PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ ledger.Store = (*Store)(nil)

// New creates a store over an open pool
func New(pool *pgxpool.Pool, log logger.Logger) *Store {
	return &Store{pool: pool, logger: log}
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

// executor returns the transaction bound to ctx, or the pool
func (s *Store) executor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// WithTx runs fn inside a database transaction. A nested call joins the outer one.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("Failed to rollback transaction after panic: %v", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error("Failed to rollback transaction: %v (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const intentColumns = `id, owner, payload, payload_hash, token_in, token_out, min_output::text, status, batch_id, created_at`

func (s *Store) InsertIntent(ctx context.Context, intent *models.Intent) error {
	_, err := s.executor(ctx).Exec(ctx, `
		INSERT INTO intents (id, owner, payload, payload_hash, token_in, token_out, min_output, status, batch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)`,
		int64(intent.ID), intent.Owner, []byte(intent.Payload), intent.PayloadHash.Bytes(),
		intent.TokenIn, intent.TokenOut, intent.MinOutput.String(), string(intent.Status),
		nullableID(intent.BatchID), intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert intent %d: %w", intent.ID, err)
	}
	return nil
}

func (s *Store) UpdateIntent(ctx context.Context, intent *models.Intent) error {
	tag, err := s.executor(ctx).Exec(ctx,
		`UPDATE intents SET status = $2, batch_id = $3 WHERE id = $1`,
		int64(intent.ID), string(intent.Status), nullableID(intent.BatchID),
	)
	if err != nil {
		return fmt.Errorf("failed to update intent %d: %w", intent.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("intent %d: %w", intent.ID, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id uint64) (*models.Intent, error) {
	row := s.executor(ctx).QueryRow(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE id = $1`, int64(id))
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("intent %d: %w", id, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load intent %d: %w", id, err)
	}
	return intent, nil
}

func (s *Store) ListIntents(ctx context.Context, filter ledger.IntentFilter) ([]*models.Intent, error) {
	var limit *int64
	if filter.Limit > 0 {
		l := int64(filter.Limit)
		limit = &l
	}

	rows, err := s.executor(ctx).Query(ctx, `
		SELECT `+intentColumns+` FROM intents
		WHERE id > $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY id
		LIMIT $3`,
		int64(filter.AfterID), string(filter.Status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	defer rows.Close()

	var out []*models.Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		out = append(out, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intents: %w", err)
	}
	return out, nil
}

func (s *Store) CountIntents(ctx context.Context, status models.IntentStatus) (uint64, error) {
	var n int64
	err := s.executor(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM intents WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s intents: %w", status, err)
	}
	return uint64(n), nil
}

func (s *Store) LastIntentID(ctx context.Context) (uint64, error) {
	return s.maxID(ctx, "intents")
}

const batchColumns = `id, intent_ids, intent_count, total_volume::text, route, ordering_rule, status, created_at, executed_at`

func (s *Store) InsertBatch(ctx context.Context, batch *models.Batch) error {
	_, err := s.executor(ctx).Exec(ctx, `
		INSERT INTO batches (id, intent_ids, intent_count, total_volume, route, ordering_rule, status, created_at, executed_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		int64(batch.ID), toInt64s(batch.IntentIDs), batch.IntentCount, batch.TotalVolume.String(),
		batch.Route, batch.OrderingRule, string(batch.Status), batch.CreatedAt, batch.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch %d: %w", batch.ID, err)
	}
	return nil
}

// UpdateBatch persists status changes. Membership, order and volume are fixed at insert.
func (s *Store) UpdateBatch(ctx context.Context, batch *models.Batch) error {
	tag, err := s.executor(ctx).Exec(ctx,
		`UPDATE batches SET status = $2, executed_at = $3 WHERE id = $1`,
		int64(batch.ID), string(batch.Status), batch.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch %d: %w", batch.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %d: %w", batch.ID, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	var (
		batch  models.Batch
		rowID  int64
		ids    []int64
		volume string
		status string
	)
	err := s.executor(ctx).QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`, int64(id)).Scan(
		&rowID, &ids, &batch.IntentCount, &volume, &batch.Route, &batch.OrderingRule,
		&status, &batch.CreatedAt, &batch.ExecutedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("batch %d: %w", id, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load batch %d: %w", id, err)
	}

	batch.ID = uint64(rowID)
	batch.IntentIDs = toUint64s(ids)
	batch.Status = models.BatchStatus(status)
	if batch.TotalVolume, err = parseAmount(volume); err != nil {
		return nil, fmt.Errorf("batch %d total volume: %w", id, err)
	}
	return &batch, nil
}

func (s *Store) LastBatchID(ctx context.Context) (uint64, error) {
	return s.maxID(ctx, "batches")
}

func (s *Store) InsertBatchResult(ctx context.Context, result *models.BatchResult) error {
	_, err := s.executor(ctx).Exec(ctx, `
		INSERT INTO batch_results (batch_id, success, total_input_amount, total_output_amount, execution_price, failure_reason, executed_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)`,
		int64(result.BatchID), result.Success, result.TotalInputAmount.String(),
		result.TotalOutputAmount.String(), result.ExecutionPrice.String(),
		result.FailureReason, result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result of batch %d: %w", result.BatchID, err)
	}
	return nil
}

func (s *Store) GetBatchResult(ctx context.Context, batchID uint64) (*models.BatchResult, error) {
	var (
		result            models.BatchResult
		rowID             int64
		input, output, px string
	)
	err := s.executor(ctx).QueryRow(ctx, `
		SELECT batch_id, success, total_input_amount::text, total_output_amount::text,
		       execution_price::text, failure_reason, executed_at
		FROM batch_results WHERE batch_id = $1`, int64(batchID)).Scan(
		&rowID, &result.Success, &input, &output, &px, &result.FailureReason, &result.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result of batch %d: %w", batchID, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load result of batch %d: %w", batchID, err)
	}

	result.BatchID = uint64(rowID)
	if result.TotalInputAmount, err = parseAmount(input); err != nil {
		return nil, fmt.Errorf("result of batch %d input amount: %w", batchID, err)
	}
	if result.TotalOutputAmount, err = parseAmount(output); err != nil {
		return nil, fmt.Errorf("result of batch %d output amount: %w", batchID, err)
	}
	if result.ExecutionPrice, err = decimal.NewFromString(px); err != nil {
		return nil, fmt.Errorf("result of batch %d execution price: %w", batchID, err)
	}
	return &result, nil
}

func (s *Store) maxID(ctx context.Context, table string) (uint64, error) {
	var last int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) FROM %s`, pgx.Identifier{table}.Sanitize())
	if err := s.executor(ctx).QueryRow(ctx, query).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to read last id of %s: %w", table, err)
	}
	return uint64(last), nil
}

func scanIntent(row pgx.Row) (*models.Intent, error) {
	var (
		intent    models.Intent
		id        int64
		payload   []byte
		hash      []byte
		minOutput string
		status    string
		batchID   *int64
	)
	if err := row.Scan(&id, &intent.Owner, &payload, &hash, &intent.TokenIn, &intent.TokenOut,
		&minOutput, &status, &batchID, &intent.CreatedAt); err != nil {
		return nil, err
	}

	minOut, err := parseAmount(minOutput)
	if err != nil {
		return nil, fmt.Errorf("intent %d min output: %w", id, err)
	}

	intent.ID = uint64(id)
	intent.Payload = payload
	intent.PayloadHash = common.BytesToHash(hash)
	intent.MinOutput = minOut
	intent.Status = models.IntentStatus(status)
	if batchID != nil {
		b := uint64(*batchID)
		intent.BatchID = &b
	}
	return &intent, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func nullableID(id *uint64) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toUint64s(ids []int64) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}
