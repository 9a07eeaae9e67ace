// Package memory is an in-process backend for every store interface.  It is
// intended for tests and dev environments; state is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/keylock"
)

// Store keeps all tables behind one RWMutex.  Per-card exclusion for
// verification comes from the keyed lock table, not from mu; mu only guards
// map access and makes each Commit atomic.
type Store struct {
	mu    sync.RWMutex
	locks *keylock.Table

	nextCardID    int64
	nextBindingID int64
	nextRecordID  int64

	cards    map[int64]store.Card
	byFP     map[string]int64
	bindings map[int64]map[string]store.DeviceBinding

	verifications []store.VerificationRecord
	calls         []store.APICallRecord

	credentials map[string]store.Credential
	credByHash  map[string]string
}

func New() *Store {
	return &Store{
		locks:       keylock.New(),
		cards:       make(map[int64]store.Card),
		byFP:        make(map[string]int64),
		bindings:    make(map[int64]map[string]store.DeviceBinding),
		credentials: make(map[string]store.Credential),
		credByHash:  make(map[string]string),
	}
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := store.Stats{
		Cards:       int64(len(s.cards)),
		Credentials: int64(len(s.credentials)),
	}
	for _, c := range s.credentials {
		if c.IsActive {
			st.ActiveCredentials++
		}
	}
	return st, nil
}
