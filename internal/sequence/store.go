package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var (
	keySeq  = []byte("pos_seq")
	keyDate = []byte("pos_seq_date")
)

type MemoryStore struct {
	mu       sync.Mutex
	baseline Baseline
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read(_ context.Context) (Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline, nil
}

func (m *MemoryStore) Write(_ context.Context, b Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = b
	return nil
}

// BadgerStore keeps the baseline in an embedded badger database so a
// restarted terminal does not reuse a claimed id.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store under dir. An empty dir runs the
// database in memory.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open sequence store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Read(_ context.Context) (Baseline, error) {
	var b Baseline
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyDate)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if err := item.Value(func(val []byte) error {
			b.DatePrefix = string(val)
			return nil
		}); err != nil {
			return err
		}

		item, err = txn.Get(keySeq)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			seq, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("corrupt sequence value %q: %w", val, err)
			}
			b.Seq = seq
			return nil
		})
	})
	if err != nil {
		return Baseline{}, err
	}
	return b, nil
}

func (s *BadgerStore) Write(_ context.Context, b Baseline) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyDate, []byte(b.DatePrefix)); err != nil {
			return err
		}
		return txn.Set(keySeq, []byte(strconv.Itoa(b.Seq)))
	})
}
