package secret

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotBound is returned by Lookup when no scope for the name is active.
var ErrNotBound = errors.New("secret not bound")

// ErrAlreadyBound is returned when WithSecret is entered for a name that is
// already bound; bindings are exclusive and non-reentrant.
var ErrAlreadyBound = errors.New("secret already bound")

// Scope exposes credentials only inside the dynamic extent of a WithSecret
// call. The credential is resolved before the body runs, so the body never
// observes a partially-initialized secret, and the binding is removed on
// every exit path.
type Scope struct {
	store Store

	mu       sync.Mutex
	bindings map[string]Credential
}

func NewScope(store Store) *Scope {
	return &Scope{
		store:    store,
		bindings: make(map[string]Credential),
	}
}

// WithSecret resolves the named credential and runs body with it. If the
// credential does not exist, body never runs and the store's
// ErrCredentialMissing is returned. The ambient binding installed for the
// body's extent is removed on both normal return and error exit.
func (s *Scope) WithSecret(ctx context.Context, name string, body func(Credential) error) error {
	cred, err := s.store.Get(ctx, name)
	if err != nil {
		return err
	}

	if err := s.bind(name, cred); err != nil {
		return err
	}
	defer s.unbind(name)

	return body(cred)
}

// Lookup returns the credential for name if a WithSecret scope for it is
// currently active, and ErrNotBound otherwise.
func (s *Scope) Lookup(name string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.bindings[name]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrNotBound, name)
	}
	return cred, nil
}

func (s *Scope) bind(name string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	s.bindings[name] = cred
	return nil
}

func (s *Scope) unbind(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, name)
}
