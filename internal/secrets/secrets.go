// Package secrets resolves credential references in settings. A reference is
// one of:
//
//	keyring:<key>   item <key> in the OS keyring (service "notifyd")
//	file:<path>     contents of a Docker or Kubernetes secret file
//	${VAR}          environment expansion, ${VAR:-default} supported
//	anything else   the literal value
//
// Secret values are never logged.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/hrconsole/notifyd/internal/errors"
)

const (
	// ServiceName is the keyring service notifyd stores items under.
	ServiceName = "notifyd"

	keyringPrefix = "keyring:"
	filePrefix    = "file:"

	// maxSecretFileSize limits secret file reads; secrets are tokens, not files.
	maxSecretFileSize = 64 * 1024
)

// ErrNotFound is returned when a keyring item does not exist.
var ErrNotFound = errors.NewStd("secret not found")

// OpenKeyring opens the OS keyring, falling back to an encrypted file under
// ~/.config/notifyd/credentials.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/notifyd/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("notifyd-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("opening keyring: %w", err)).
			Component("secrets").
			Category(errors.CategorySystem).
			Build()
	}
	return ring, nil
}

// Resolver resolves references. The keyring is opened on first use.
type Resolver struct {
	open func() (keyring.Keyring, error)

	once sync.Once
	ring keyring.Keyring
	err  error
}

// NewResolver returns a Resolver backed by the OS keyring.
func NewResolver() *Resolver {
	return &Resolver{open: OpenKeyring}
}

// NewResolverWithKeyring returns a Resolver backed by ring.
func NewResolverWithKeyring(ring keyring.Keyring) *Resolver {
	return &Resolver{open: func() (keyring.Keyring, error) { return ring, nil }}
}

func (r *Resolver) keyring() (keyring.Keyring, error) {
	r.once.Do(func() { r.ring, r.err = r.open() })
	return r.ring, r.err
}

// Resolve returns the secret ref points at. name identifies the setting in
// errors. An empty ref resolves to "".
func (r *Resolver) Resolve(name, ref string) (string, error) {
	var (
		value string
		err   error
	)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, keyringPrefix):
		value, err = r.Get(strings.TrimPrefix(ref, keyringPrefix))
	case strings.HasPrefix(ref, filePrefix):
		value, err = ReadFile(strings.TrimPrefix(ref, filePrefix))
	default:
		value, err = ExpandString(ref)
	}
	if err != nil {
		return "", errors.New(fmt.Errorf("resolving %s: %w", name, err)).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("setting", name).
			Build()
	}
	return value, nil
}

// Get reads key from the keyring.
func (r *Resolver) Get(key string) (string, error) {
	ring, err := r.keyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: keyring item %q", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading keyring item %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores value under key in the keyring.
func (r *Resolver) Set(key, value string) error {
	ring, err := r.keyring()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: ServiceName + " " + key}); err != nil {
		return fmt.Errorf("storing keyring item %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the keyring.
func (r *Resolver) Delete(key string) error {
	ring, err := r.keyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("%w: keyring item %q", ErrNotFound, key)
		}
		return fmt.Errorf("removing keyring item %q: %w", key, err)
	}
	return nil
}

// ExpandString expands ${VAR} and ${VAR:-default}. A referenced variable that
// is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	var missing []string

	expanded := os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile reads a secret file, trimming trailing newlines. The file must be
// a regular file no larger than 64 KiB.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", clean)
		}
		return "", fmt.Errorf("failed to stat secret file %s: %w", clean, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, clean)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", clean, err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", clean)
	}
	return secret, nil
}
