package dispatch

import (
	"context"
	"fmt"
	"os"

	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/secrets"
)

// InitGPG resolves key material through loader and builds the single
// *gpgsession.Session the process's Dispatcher reuses for every
// transaction, porting aws_lambda.py's module-level _init_gpg: the
// armored key is written to a fresh GNUPGHOME-scoped temp file once,
// at process start, rather than per event.
//
// A loader that resolves an empty PrivateKeyArmored (no key configured)
// yields a disabled Session, matching "signing is optional" behaviour.
func InitGPG(ctx context.Context, loader secrets.Loader) (*gpgsession.Session, error) {
	km, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: loading gpg key material: %w", err)
	}
	if km.PrivateKeyArmored == "" {
		return gpgsession.New("", "", false), nil
	}

	gnupgHome, err := os.MkdirTemp("", ".gnupg-")
	if err != nil {
		return nil, fmt.Errorf("dispatch: creating GNUPGHOME: %w", err)
	}
	if err := os.Setenv("GNUPGHOME", gnupgHome); err != nil {
		return nil, fmt.Errorf("dispatch: setting GNUPGHOME: %w", err)
	}

	keyFile, err := os.CreateTemp(gnupgHome, "key-*.asc")
	if err != nil {
		return nil, fmt.Errorf("dispatch: writing private key file: %w", err)
	}
	defer keyFile.Close()
	if _, err := keyFile.WriteString(km.PrivateKeyArmored); err != nil {
		return nil, fmt.Errorf("dispatch: writing private key file: %w", err)
	}

	return gpgsession.New(keyFile.Name(), km.Password, true), nil
}
