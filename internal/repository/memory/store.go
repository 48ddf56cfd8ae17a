// internal/repository/memory/store.go
package memory

import (
	"context"
	"database/sql"
	"errors"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/repository"
	"puzzlebounty/pkg/db"
)

var errSQLUnsupported = errors.New("memory store does not execute SQL")

// Store is an in-process implementation of the repositories. Transactions
// are serialized: Begin takes the store's single write slot and Rollback
// restores the snapshot taken at Begin.
type Store struct {
	slot  chan struct{}
	state *state
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		slot:  make(chan struct{}, 1),
		state: newState(),
	}
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.slot
}

// BeginTx starts a serializable transaction. It matches db.BeginTxFunc.
func (s *Store) BeginTx(ctx context.Context) (db.TxController, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	return &Tx{store: s, snapshot: s.state.clone()}, nil
}

// with runs fn against the live state, inside q's transaction when q is a
// *Tx, otherwise holding the write slot for the duration of the call.
func (s *Store) with(ctx context.Context, q repository.DBExecutor, fn func(st *state) error) error {
	if tx, ok := q.(*Tx); ok {
		if tx.done {
			return sql.ErrTxDone
		}
		return fn(s.state)
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return fn(s.state)
}

// GetContext implements repository.DBExecutor; SQL is not supported.
func (s *Store) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errSQLUnsupported
}

// SelectContext implements repository.DBExecutor; SQL is not supported.
func (s *Store) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errSQLUnsupported
}

// ExecContext implements repository.DBExecutor; SQL is not supported.
func (s *Store) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errSQLUnsupported
}

// QueryRowContext implements repository.DBExecutor; SQL is not supported.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

// Tx is a Store transaction. It satisfies db.TxController and repository.DBExecutor.
type Tx struct {
	store    *Store
	snapshot *state
	done     bool
}

// Commit keeps all changes made since Begin.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.release()
	return nil
}

// Rollback discards all changes made since Begin.
func (t *Tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.state = t.snapshot
	t.store.release()
	return nil
}

// GetContext implements repository.DBExecutor; SQL is not supported.
func (t *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errSQLUnsupported
}

// SelectContext implements repository.DBExecutor; SQL is not supported.
func (t *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errSQLUnsupported
}

// ExecContext implements repository.DBExecutor; SQL is not supported.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errSQLUnsupported
}

// QueryRowContext implements repository.DBExecutor; SQL is not supported.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

type state struct {
	accounts     map[int64]domain.Account
	usernames    map[string]int64
	crypto       map[int64]map[domain.Asset]int64
	methods      []domain.PaymentMethod
	entries      map[string]domain.LedgerEntry
	entryOrder   []string
	puzzles      map[string]domain.Puzzle
	attempts     []domain.Attempt
	nextAccount  int64
	nextMethodID int64
}

func newState() *state {
	return &state{
		accounts:  map[int64]domain.Account{},
		usernames: map[string]int64{},
		crypto:    map[int64]map[domain.Asset]int64{},
		entries:   map[string]domain.LedgerEntry{},
		puzzles:   map[string]domain.Puzzle{},
	}
}

// clone deep-copies the state. Stored values are copies owned by the store,
// so copying the maps and slices is enough.
func (st *state) clone() *state {
	c := &state{
		accounts:     make(map[int64]domain.Account, len(st.accounts)),
		usernames:    make(map[string]int64, len(st.usernames)),
		crypto:       make(map[int64]map[domain.Asset]int64, len(st.crypto)),
		methods:      append([]domain.PaymentMethod(nil), st.methods...),
		entries:      make(map[string]domain.LedgerEntry, len(st.entries)),
		entryOrder:   append([]string(nil), st.entryOrder...),
		puzzles:      make(map[string]domain.Puzzle, len(st.puzzles)),
		attempts:     append([]domain.Attempt(nil), st.attempts...),
		nextAccount:  st.nextAccount,
		nextMethodID: st.nextMethodID,
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.usernames {
		c.usernames[k] = v
	}
	for k, v := range st.crypto {
		m := make(map[domain.Asset]int64, len(v))
		for a, n := range v {
			m[a] = n
		}
		c.crypto[k] = m
	}
	for k, v := range st.entries {
		c.entries[k] = v
	}
	for k, v := range st.puzzles {
		c.puzzles[k] = v
	}
	return c
}

// copyEntry detaches an entry from storage so callers cannot mutate it.
func copyEntry(e domain.LedgerEntry) domain.LedgerEntry {
	d := e.RailDetails
	if d.Card != nil {
		c := *d.Card
		d.Card = &c
	}
	if d.UTXOChain != nil {
		c := *d.UTXOChain
		d.UTXOChain = &c
	}
	if d.AccountChain != nil {
		c := *d.AccountChain
		d.AccountChain = &c
	}
	e.RailDetails = d
	e.FromAccount = copyPtr(e.FromAccount)
	e.ToAccount = copyPtr(e.ToAccount)
	e.RelatedPuzzle = copyPtr(e.RelatedPuzzle)
	e.CryptoAmount = copyPtr(e.CryptoAmount)
	e.CryptoCurrency = copyPtr(e.CryptoCurrency)
	e.ExternalReference = copyPtr(e.ExternalReference)
	e.ChainTxID = copyPtr(e.ChainTxID)
	e.ExpiresAt = copyPtr(e.ExpiresAt)
	e.ProcessedAt = copyPtr(e.ProcessedAt)
	e.FailureReason = copyPtr(e.FailureReason)
	return e
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
