// Package secrets seals configuration values such as the Kodi password with
// age. A sealed value looks like ENC[<base64 age ciphertext>] and may stand in
// for any string key of the TOML config.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	sealPrefix = "ENC["
	sealSuffix = "]"

	// EnvKey holds a raw AGE-SECRET-KEY-1... identity.
	EnvKey = "KODIVIEW_AGE_KEY"

	// EnvKeyFile holds the path of an identity file.
	EnvKeyFile = "KODIVIEW_AGE_KEY_FILE"

	// KeyFilename is the identity file looked up under ~/.config/kodiview.
	KeyFilename = "age.key"

	// IdentityKey is the config key naming an identity file.
	IdentityKey = "secrets.identity"
)

var (
	// ErrNoIdentity is returned when sealed values are present but no age
	// identity can be found.
	ErrNoIdentity = errors.New("no age identity configured; set " + EnvKey + ", " + EnvKeyFile + " or " + IdentityKey)

	// ErrKeyPermissions is returned for identity files that other users can
	// read. The Kodi password is only as private as the key.
	ErrKeyPermissions = errors.New("identity file is accessible by other users; chmod 600 it")
)

// IsSealed reports whether value has the ENC[...] form with a non-empty body.
func IsSealed(value string) bool {
	return len(value) > len(sealPrefix)+len(sealSuffix) &&
		strings.HasPrefix(value, sealPrefix) &&
		strings.HasSuffix(value, sealSuffix)
}

// Seal encrypts plaintext to the recipients.
func Seal(plaintext string, recipients ...age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err == nil {
		_, err = io.WriteString(w, plaintext)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return "", fmt.Errorf("secrets: seal: %w", err)
	}
	return sealPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + sealSuffix, nil
}

// ParseRecipients parses age1... public keys, one per element. Blank
// elements are skipped.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	var out []age.Recipient
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(k)
		if err != nil {
			return nil, fmt.Errorf("secrets: recipient %q: %w", k, err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("secrets: no recipients")
	}
	return out, nil
}

// Keyring holds the identities that open sealed values and remembers where
// they were found.
type Keyring struct {
	// Source describes the origin, e.g. "$KODIVIEW_AGE_KEY" or a file path.
	Source string

	identities []age.Identity
}

// NewKeyring wraps identities loaded by other means.
func NewKeyring(source string, ids ...age.Identity) *Keyring {
	return &Keyring{Source: source, identities: ids}
}

// LoadKeyring looks for an identity in order: EnvKey, EnvKeyFile,
// configured (the secrets.identity key), DefaultKeyPath. It returns nil
// without error when none is set and the default file does not exist.
func LoadKeyring(configured string) (*Keyring, error) {
	if raw := os.Getenv(EnvKey); raw != "" {
		id, err := age.ParseX25519Identity(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("secrets: $%s: %w", EnvKey, err)
		}
		return NewKeyring("$"+EnvKey, id), nil
	}

	path := os.Getenv(EnvKeyFile)
	if path == "" && configured != "" {
		path = expandHome(configured)
	}
	if path == "" {
		path = DefaultKeyPath()
		if path == "" {
			return nil, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, nil
		}
	}
	return readKeyring(path)
}

func readKeyring(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	defer f.Close()

	if runtime.GOOS != "windows" {
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("secrets: %w", err)
		}
		if info.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("secrets: %s (mode %o): %w", path, info.Mode().Perm(), ErrKeyPermissions)
		}
	}

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("secrets: parse %s: %w", path, err)
	}
	return NewKeyring(path, ids...), nil
}

// Open decrypts a sealed value.
func (k *Keyring) Open(value string) (string, error) {
	if !IsSealed(value) {
		return "", fmt.Errorf("secrets: value is not sealed")
	}
	body := value[len(sealPrefix) : len(value)-len(sealSuffix)]
	ciphertext, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("secrets: decode: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), k.identities...)
	if err != nil {
		return "", fmt.Errorf("secrets: open with %s: %w", k.Source, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}
	return string(plain), nil
}

// Recipient returns the public key of the first X25519 identity, used to
// seal new values for this keyring.
func (k *Keyring) Recipient() (age.Recipient, error) {
	for _, id := range k.identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x.Recipient(), nil
		}
	}
	return nil, fmt.Errorf("secrets: %s holds no X25519 identity", k.Source)
}

// DefaultKeyPath returns ~/.config/kodiview/age.key, or "" when the home
// directory is unknown.
func DefaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "kodiview", KeyFilename)
}

// OpenConfig replaces every sealed string in v with its plaintext and
// returns the keys it opened, sorted. The keyring is only loaded when at
// least one sealed value exists. Every key that fails is reported.
func OpenConfig(v *viper.Viper) ([]string, error) {
	var sealed []string
	for _, key := range v.AllKeys() {
		if IsSealed(v.GetString(key)) {
			sealed = append(sealed, key)
		}
	}
	if len(sealed) == 0 {
		return nil, nil
	}
	sort.Strings(sealed)

	kr, err := LoadKeyring(v.GetString(IdentityKey))
	if err != nil {
		return nil, err
	}
	if kr == nil {
		return nil, fmt.Errorf("%w (sealed: %s)", ErrNoIdentity, strings.Join(sealed, ", "))
	}

	var errs []error
	for _, key := range sealed {
		plain, err := kr.Open(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("config key %q: %w", key, err))
			continue
		}
		v.Set(key, plain)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return sealed, nil
}

// WriteKeyFile generates a new X25519 identity and writes it to path with
// 0600 permissions. An existing file is never overwritten.
func WriteKeyFile(path string) (*age.X25519Identity, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("secrets: generate identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	_, err = fmt.Fprintf(f, "# kodiview config key, created %s\n# public key: %s\n%s\n",
		time.Now().Format(time.RFC3339), id.Recipient(), id)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: write %s: %w", path, err)
	}
	return id, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
