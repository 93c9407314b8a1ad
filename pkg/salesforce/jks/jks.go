// Package jks reads the Salesforce signing key out of a Java KeyStore.
//
// A JKS file is protected twice: the store password guards the integrity of
// the whole file and each private-key entry carries its own password. The
// two failures are reported as different errors so operators can tell which
// secret is wrong.
package jks

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"go.uber.org/zap"
)

var (
	// ErrCredential is the parent of every error returned by this package.
	ErrCredential = errors.New("credential error")

	ErrKeystoreUnreadable = fmt.Errorf("%w: keystore unreadable", ErrCredential)

	// ErrKeystoreFormat covers both a corrupt file and a wrong store password;
	// the JKS integrity check cannot distinguish the two.
	ErrKeystoreFormat = fmt.Errorf("%w: bad keystore format", ErrCredential)

	ErrCredentialNotFound = fmt.Errorf("%w: private key alias not found", ErrCredential)
	ErrDecryption         = fmt.Errorf("%w: private key decryption failed", ErrCredential)
)

type options struct {
	diagnostics *zap.Logger
}

type Option func(*options)

// WithDiagnosticDump logs the raw keystore bytes, base64-encoded, when the
// file fails to parse. The dump contains key material; enable it only to
// recover a broken deployment.
func WithDiagnosticDump(logger *zap.Logger) Option {
	return func(o *options) {
		o.diagnostics = logger
	}
}

// LoadPrivateKey opens the keystore at path, selects the private-key entry
// named alias and returns it as a PKCS#8 PEM block.
func LoadPrivateKey(path, keystorePassword, alias, certPassword string, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrKeystoreUnreadable, path, err)
	}

	ks := keystore.New()
	// keystore-go may zero the password slices it is handed, so each call gets its own copy.
	if err := ks.Load(bytes.NewReader(raw), []byte(keystorePassword)); err != nil {
		if o.diagnostics != nil {
			o.diagnostics.Error("Full keystore file contents (base64)",
				zap.String("path", path),
				zap.String("contents", base64.StdEncoding.EncodeToString(raw)))
		}
		return "", fmt.Errorf("%w: %v", ErrKeystoreFormat, err)
	}

	if !ks.IsPrivateKeyEntry(alias) {
		return "", fmt.Errorf("%w: %q", ErrCredentialNotFound, alias)
	}

	entry, err := ks.GetPrivateKeyEntry(alias, []byte(certPassword))
	if err != nil {
		if errors.Is(err, keystore.ErrEntryNotFound) || errors.Is(err, keystore.ErrWrongEntryType) {
			return "", fmt.Errorf("%w: %q", ErrCredentialNotFound, alias)
		}
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	if _, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey); err != nil {
		return "", fmt.Errorf("%w: entry %q is not a PKCS#8 key: %v", ErrDecryption, alias, err)
	}

	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: entry.PrivateKey})
	return string(block), nil
}

// Source binds a keystore location and its secrets so the key can be
// re-read on every session establishment.
type Source struct {
	Path             string
	KeystorePassword string
	Alias            string
	CertPassword     string
	Options          []Option
}

func (s Source) PrivateKey() (string, error) {
	return LoadPrivateKey(s.Path, s.KeystorePassword, s.Alias, s.CertPassword, s.Options...)
}
