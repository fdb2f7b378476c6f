// Package memory is an in-process ledger store. Transactions buffer their writes
// in an overlay that is applied under the store lock on commit, so readers see
// either none or all of a transaction's effects.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

type txKey struct{}

// tx is the write overlay of one transaction
type tx struct {
	intents    map[uint64]*models.Intent
	newIntents []uint64
	batches    map[uint64]*models.Batch
	results    map[uint64]*models.BatchResult
}

func newTx() *tx {
	return &tx{
		intents: make(map[uint64]*models.Intent),
		batches: make(map[uint64]*models.Batch),
		results: make(map[uint64]*models.BatchResult),
	}
}

// Store keeps the ledger in memory
type Store struct {
	mu          sync.RWMutex
	intents     map[uint64]*models.Intent
	intentOrder []uint64
	batches     map[uint64]*models.Batch
	results     map[uint64]*models.BatchResult
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		intents: make(map[uint64]*models.Intent),
		batches: make(map[uint64]*models.Batch),
		results: make(map[uint64]*models.BatchResult),
	}
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// WithTx runs fn with a transaction bound to its context. A nested call joins the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	t := newTx()
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, intent := range t.intents {
		s.intents[id] = intent
	}
	for _, id := range t.newIntents {
		s.insertOrder(id)
	}
	for id, batch := range t.batches {
		s.batches[id] = batch
	}
	for id, result := range t.results {
		s.results[id] = result
	}
}

func (s *Store) insertOrder(id uint64) {
	i := sort.Search(len(s.intentOrder), func(i int) bool { return s.intentOrder[i] >= id })
	s.intentOrder = append(s.intentOrder, 0)
	copy(s.intentOrder[i+1:], s.intentOrder[i:])
	s.intentOrder[i] = id
}

// write applies fn to the context's transaction, or to a single-statement
// transaction committed immediately when there is none
func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	if t := txFrom(ctx); t != nil {
		return fn(t)
	}
	t := newTx()
	if err := fn(t); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) lookupIntent(t *tx, id uint64) (*models.Intent, bool) {
	if t != nil {
		if intent, ok := t.intents[id]; ok {
			return intent, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	return intent, ok
}

func (s *Store) lookupBatch(t *tx, id uint64) (*models.Batch, bool) {
	if t != nil {
		if batch, ok := t.batches[id]; ok {
			return batch, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	return batch, ok
}

func (s *Store) lookupResult(t *tx, id uint64) (*models.BatchResult, bool) {
	if t != nil {
		if result, ok := t.results[id]; ok {
			return result, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	return result, ok
}

func (s *Store) InsertIntent(ctx context.Context, intent *models.Intent) error {
	return s.write(ctx, func(t *tx) error {
		if _, exists := s.lookupIntent(t, intent.ID); exists {
			return fmt.Errorf("intent %d already exists", intent.ID)
		}
		t.intents[intent.ID] = intent.Clone()
		t.newIntents = append(t.newIntents, intent.ID)
		return nil
	})
}

func (s *Store) UpdateIntent(ctx context.Context, intent *models.Intent) error {
	return s.write(ctx, func(t *tx) error {
		if _, exists := s.lookupIntent(t, intent.ID); !exists {
			return fmt.Errorf("intent %d: %w", intent.ID, ledger.ErrNotFound)
		}
		t.intents[intent.ID] = intent.Clone()
		return nil
	})
}

func (s *Store) GetIntent(ctx context.Context, id uint64) (*models.Intent, error) {
	intent, ok := s.lookupIntent(txFrom(ctx), id)
	if !ok {
		return nil, fmt.Errorf("intent %d: %w", id, ledger.ErrNotFound)
	}
	return intent.Clone(), nil
}

func (s *Store) ListIntents(ctx context.Context, filter ledger.IntentFilter) ([]*models.Intent, error) {
	t := txFrom(ctx)

	s.mu.RLock()
	ids := append([]uint64(nil), s.intentOrder...)
	s.mu.RUnlock()
	if t != nil && len(t.newIntents) > 0 {
		ids = append(ids, t.newIntents...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	start := sort.Search(len(ids), func(i int) bool { return ids[i] > filter.AfterID })

	var out []*models.Intent
	for _, id := range ids[start:] {
		intent, ok := s.lookupIntent(t, id)
		if !ok {
			continue
		}
		if filter.Status != "" && intent.Status != filter.Status {
			continue
		}
		out = append(out, intent.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CountIntents(ctx context.Context, status models.IntentStatus) (uint64, error) {
	t := txFrom(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n uint64
	for id, intent := range s.intents {
		if t != nil {
			if overlay, ok := t.intents[id]; ok {
				intent = overlay
			}
		}
		if intent.Status == status {
			n++
		}
	}
	if t != nil {
		for _, id := range t.newIntents {
			if t.intents[id].Status == status {
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) LastIntentID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	var last uint64
	if n := len(s.intentOrder); n > 0 {
		last = s.intentOrder[n-1]
	}
	s.mu.RUnlock()

	if t := txFrom(ctx); t != nil {
		for _, id := range t.newIntents {
			if id > last {
				last = id
			}
		}
	}
	return last, nil
}

func (s *Store) InsertBatch(ctx context.Context, batch *models.Batch) error {
	return s.write(ctx, func(t *tx) error {
		if _, exists := s.lookupBatch(t, batch.ID); exists {
			return fmt.Errorf("batch %d already exists", batch.ID)
		}
		t.batches[batch.ID] = batch.Clone()
		return nil
	})
}

func (s *Store) UpdateBatch(ctx context.Context, batch *models.Batch) error {
	return s.write(ctx, func(t *tx) error {
		if _, exists := s.lookupBatch(t, batch.ID); !exists {
			return fmt.Errorf("batch %d: %w", batch.ID, ledger.ErrNotFound)
		}
		t.batches[batch.ID] = batch.Clone()
		return nil
	})
}

func (s *Store) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	batch, ok := s.lookupBatch(txFrom(ctx), id)
	if !ok {
		return nil, fmt.Errorf("batch %d: %w", id, ledger.ErrNotFound)
	}
	return batch.Clone(), nil
}

func (s *Store) LastBatchID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	var last uint64
	for id := range s.batches {
		if id > last {
			last = id
		}
	}
	s.mu.RUnlock()

	if t := txFrom(ctx); t != nil {
		for id := range t.batches {
			if id > last {
				last = id
			}
		}
	}
	return last, nil
}

func (s *Store) InsertBatchResult(ctx context.Context, result *models.BatchResult) error {
	return s.write(ctx, func(t *tx) error {
		if _, exists := s.lookupResult(t, result.BatchID); exists {
			return fmt.Errorf("result of batch %d already exists", result.BatchID)
		}
		t.results[result.BatchID] = result.Clone()
		return nil
	})
}

func (s *Store) GetBatchResult(ctx context.Context, batchID uint64) (*models.BatchResult, error) {
	result, ok := s.lookupResult(txFrom(ctx), batchID)
	if !ok {
		return nil, fmt.Errorf("result of batch %d: %w", batchID, ledger.ErrNotFound)
	}
	return result.Clone(), nil
}
