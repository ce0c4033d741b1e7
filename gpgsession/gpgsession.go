// Package gpgsession wraps a headless gpg(1) invocation for a single
// repository transaction: importing a private key, presetting its
// passphrase in gpg-agent, signing files, and tearing the key back
// down. It never parses or re-implements the OpenPGP packet format
// itself — that stays the job of the real gpg binary, run through
// subprocess.Runner exactly as RepositoryBase._gpg_exec does.
package gpgsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/repoup/repoup/repoerr"
	"github.com/repoup/repoup/subprocess"
)

var gpgPresetPassphraseCandidates = []string{
	"/usr/lib/gnupg/gpg-preset-passphrase",
	"/usr/libexec/gpg-preset-passphrase",
	"gpg-preset-passphrase",
}

// Session is one open GPG signing session, scoped to the lifetime of a
// transaction. A zero-value Session with no PrivateKeyPath is a no-op:
// every method silently does nothing, matching the original's "signing
// is optional" behaviour when GPG_PRIVATE_KEY is unset.
type Session struct {
	// Executable is the gpg binary to invoke, GPG_EXECUTABLE or "gpg".
	Executable string
	// PrivateKeyPath is the armored private key file to import. Empty
	// disables signing entirely.
	PrivateKeyPath string
	// Password unlocks the private key, if it is passphrase protected.
	Password string
	// Verify re-verifies a detached signature immediately after signing.
	Verify bool

	runner *subprocess.Runner

	userID        string
	fingerprint   string
	publicKeyPath string
}

// New builds a Session not yet bound to a working directory: callers
// construct it before a transaction's scratch directory exists, and
// transaction.Open binds it via Bind once the storage driver opens
// one.
func New(privateKeyPath, password string, verify bool) *Session {
	executable := os.Getenv("GPG_EXECUTABLE")
	if executable == "" {
		executable = "gpg"
	}
	return &Session{
		Executable:     executable,
		PrivateKeyPath: privateKeyPath,
		Password:       password,
		Verify:         verify,
	}
}

// Enabled reports whether a private key was configured.
func (s *Session) Enabled() bool { return s.PrivateKeyPath != "" }

// Bind points the session's gpg commands at dir, the actual
// transaction scratch directory. A Session is built before that
// directory exists (it is handed to transaction.Open, which creates
// it by opening the storage driver), so Open binds it as its first
// step, before Init runs concurrently with the repository's Loader.
func (s *Session) Bind(dir string) {
	s.runner = subprocess.New(dir)
}

// UserID is the signing key's user ID, once Init has run.
func (s *Session) UserID() string { return s.userID }

// PublicKeyPath is the exported public key file written by Init, or
// empty if Init has not run (or signing is disabled).
func (s *Session) PublicKeyPath() string { return s.publicKeyPath }

func (s *Session) gpgArgv(args ...string) []string {
	return append([]string{
		s.Executable, "--batch", "--no-tty", "--status-fd", "1", "--yes", "--with-colons",
	}, args...)
}

func (s *Session) gpgExec(ctx context.Context, args ...string) ([]byte, error) {
	out, err := s.runner.Run(ctx, s.gpgArgv(args...), subprocess.DefaultOptions())
	if err != nil {
		if _, ok := err.(*repoerr.SubprocessError); !ok && (errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err)) {
			return nil, fmt.Errorf(
				"GnuPG v2 is required; configure the executable path with GPG_EXECUTABLE: %w", err)
		}
		return nil, err
	}
	return out, nil
}

// Init imports the private key, presets its passphrase in the agent if
// one was given, and exports the matching public key into dir,
// returning its path. It is a no-op if no private key was configured.
func (s *Session) Init(ctx context.Context, dir string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	showOnly, err := s.gpgExec(ctx,
		"--with-keygrip", "--import-options", "show-only", "--import", s.PrivateKeyPath)
	if err != nil {
		return "", err
	}
	keygrip, err := s.parseKeyInfo(showOnly)
	if err != nil {
		return "", err
	}

	if s.Password != "" {
		if err := s.presetPassphrase(ctx, keygrip, s.Password); err != nil {
			return "", err
		}
	}

	if _, err := s.gpgExec(ctx, "--import", s.PrivateKeyPath); err != nil {
		return "", err
	}

	publicKey, err := s.gpgExec(ctx, "--armor", "--export", s.userID)
	if err != nil {
		return "", err
	}

	publicKeyPath := filepath.Join(dir, s.userID+".pub")
	if err := os.WriteFile(publicKeyPath, publicKey, 0o644); err != nil {
		return "", err
	}
	s.publicKeyPath = publicKeyPath
	return publicKeyPath, nil
}

// parseKeyInfo scans gpg's --with-colons output for the grp/fpr/uid
// fields of the just-imported key, field 10 (index 9) of each record.
func (s *Session) parseKeyInfo(output []byte) (keygrip string, err error) {
	var uid, fpr string
	for _, line := range bytes.Split(output, []byte("\n")) {
		fields := bytes.Split(line, []byte(":"))
		if len(fields) < 10 {
			continue
		}
		switch {
		case bytes.HasPrefix(line, []byte("grp:")):
			keygrip = string(fields[9])
		case bytes.HasPrefix(line, []byte("fpr:")):
			fpr = string(fields[9])
		case bytes.HasPrefix(line, []byte("uid:")):
			uid = string(fields[9])
		}
		if keygrip != "" && uid != "" && fpr != "" {
			break
		}
	}
	if keygrip == "" || uid == "" || fpr == "" {
		return "", fmt.Errorf("gpgsession: unable to find GPG key information")
	}
	s.userID = uid
	s.fingerprint = fpr
	return keygrip, nil
}

func (s *Session) presetPassphrase(ctx context.Context, keygrip, password string) error {
	presetBin := ""
	for _, candidate := range gpgPresetPassphraseCandidates {
		if filepath.IsAbs(candidate) {
			if _, err := os.Stat(candidate); err == nil {
				presetBin = candidate
				break
			}
			continue
		}
		presetBin = candidate
		break
	}
	if presetBin == "" {
		return repoerr.NewConfigurationError(`unable to find the "gpg-preset-passphrase" executable`)
	}

	// Best-effort agent start; ignore failure, the agent may already be running.
	_, _ = s.runner.Run(ctx, []string{"gpg-agent", "--daemon", "--allow-preset-passphrase"},
		subprocess.Options{Check: false})

	_, err := s.runner.Run(ctx, []string{presetBin, "--preset", keygrip},
		subprocess.Options{Check: true, Input: &password})
	return err
}

// SignDetached produces relpath.asc, an armored detached signature of
// relpath (resolved inside dir), optionally re-verifying it. It is a
// no-op if no private key was configured.
func (s *Session) SignDetached(ctx context.Context, relpath string) (ascRelpath string, err error) {
	if !s.Enabled() {
		return "", nil
	}
	if _, err := s.gpgExec(ctx, "--default-key", s.userID, "--detach-sign", "--armor", relpath); err != nil {
		return "", err
	}
	ascRelpath = relpath + ".asc"
	if s.Verify {
		if _, err := s.gpgExec(ctx, "--verify", ascRelpath, relpath); err != nil {
			return "", err
		}
	}
	return ascRelpath, nil
}

// SignCleartext produces a cleartext-signed copy of relpath at
// outRelpath (InRelease alongside Release). It is a no-op if no
// private key was configured.
func (s *Session) SignCleartext(ctx context.Context, relpath, outRelpath string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.gpgExec(ctx, "--default-key", s.userID, "--clear-sign", "--armor",
		"--output", outRelpath, relpath)
	return err
}

// ClearKey deletes the secret and public key from the agent/keyring.
// It is a no-op if no private key was configured.
func (s *Session) ClearKey(ctx context.Context) error {
	if !s.Enabled() || s.fingerprint == "" {
		return nil
	}
	if _, err := s.gpgExec(ctx, "--delete-secret-key", s.fingerprint); err != nil {
		return err
	}
	_, err := s.gpgExec(ctx, "--delete-key", s.fingerprint)
	return err
}
