package memory

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

func (s *Store) FindCredentialByHash(_ context.Context, keyHash string) (store.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.credByHash[keyHash]
	if !ok {
		return store.Credential{}, store.ErrNotFound
	}
	return s.credentials[id], nil
}

func (s *Store) InsertCredential(_ context.Context, c store.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[c.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.credByHash[c.KeyHash]; ok {
		return store.ErrDuplicate
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.credentials[c.ID] = c
	s.credByHash[c.KeyHash] = c.ID
	return nil
}
