// Package credentials holds the single bearer token used for outbound requests.
package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/infra"
)

// Persister saves the credential across process restarts.
type Persister interface {
	Load(ctx context.Context) (domain.Credential, error)
	Save(ctx context.Context, token domain.Credential) error
	Delete(ctx context.Context) error
}

// Store owns the process-wide credential. At most one value is live at a time.
type Store struct {
	mu      sync.RWMutex
	token   domain.Credential
	persist Persister
	logger  *infra.Logger
}

// NewStore builds a Store. A nil persister keeps the credential in memory only.
func NewStore(persist Persister, logger *infra.Logger) *Store {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Store{persist: persist, logger: logger}
}

// Load initializes the in-memory credential from the persister, if any.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	token, err := s.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("credentials: load: %w", err)
	}
	s.mu.Lock()
	s.token = domain.Credential(strings.TrimSpace(string(token)))
	s.mu.Unlock()
	if token != "" {
		s.logger.Debug().Msg("credentials: restored saved credential")
	}
	return nil
}

// Set makes token the credential for every subsequent request and persists it.
// The in-memory value is updated even when persisting fails.
func (s *Store) Set(ctx context.Context, token domain.Credential) error {
	token = domain.Credential(strings.TrimSpace(string(token)))
	if token == "" {
		return fmt.Errorf("credentials: %w: empty token", domain.ErrValidation)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Save(ctx, token); err != nil {
		return fmt.Errorf("credentials: save: %w", err)
	}
	return nil
}

// Get returns the current credential and whether one is present.
func (s *Store) Get() (domain.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Token implements remote.TokenSource.
func (s *Store) Token() string {
	token, _ := s.Get()
	return string(token)
}

// Clear drops the credential. Memory is cleared before the persister is
// touched, so no request built afterwards carries the old token.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Delete(ctx); err != nil {
		return fmt.Errorf("credentials: delete: %w", err)
	}
	return nil
}
