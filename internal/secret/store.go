package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrCredentialMissing is returned when a named credential does not exist in
// the store. It is distinct from a credential with an empty value, which is
// returned as-is.
var ErrCredentialMissing = errors.New("credential missing")

// Credential is a secret bound to a named identity. Values are never logged.
type Credential struct {
	Name  string
	Value []byte
}

// Store resolves named credentials.
type Store interface {
	// Get returns the credential or ErrCredentialMissing.
	Get(ctx context.Context, name string) (Credential, error)
}

// IsMissing reports whether err indicates an absent credential, so that
// callers can gate optional stages rather than fail them.
func IsMissing(err error) bool {
	return errors.Is(err, ErrCredentialMissing)
}

const envPrefix = "DEPLOYER_SECRET_"

// EnvStore resolves credentials from environment variables. The credential
// name is upper-cased, hyphens become underscores, and the DEPLOYER_SECRET_
// prefix is applied: "registry-password" reads DEPLOYER_SECRET_REGISTRY_PASSWORD.
type EnvStore struct{}

func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

func (s *EnvStore) Get(_ context.Context, name string) (Credential, error) {
	key := envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value, ok := os.LookupEnv(key)
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrCredentialMissing, name)
	}
	return Credential{Name: name, Value: []byte(value)}, nil
}

// DirStore resolves credentials from files in a directory, one file per
// credential, named after the credential. This matches mounted secret
// volumes.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) Get(_ context.Context, name string) (Credential, error) {
	// Credential names never contain path separators; reject rather than
	// resolve outside the store directory.
	if strings.ContainsAny(name, "/\\") || name == "" {
		return Credential{}, fmt.Errorf("%w: %s", ErrCredentialMissing, name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, fmt.Errorf("%w: %s", ErrCredentialMissing, name)
		}
		return Credential{}, fmt.Errorf("reading credential %s: %w", name, err)
	}
	return Credential{Name: name, Value: data}, nil
}

// ChainStore queries stores in order and returns the first hit.
type ChainStore struct {
	stores []Store
}

func NewChainStore(stores ...Store) *ChainStore {
	return &ChainStore{stores: stores}
}

func (s *ChainStore) Get(ctx context.Context, name string) (Credential, error) {
	for _, store := range s.stores {
		cred, err := store.Get(ctx, name)
		if err == nil {
			return cred, nil
		}
		if !IsMissing(err) {
			return Credential{}, err
		}
	}
	return Credential{}, fmt.Errorf("%w: %s", ErrCredentialMissing, name)
}
