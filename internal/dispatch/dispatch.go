// Package dispatch resolves which repository kind a storage event's
// object key belongs to, opens the matching transaction, and applies
// the add/remove action — the Go shape of get_repository's
// dispatch-by-extension followed by a single "async with repo: ..."
// block, shared between cmd/repoup and cmd/repoup-lambda so neither
// entrypoint duplicates the wiring.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/repoup/repoup/compression"
	"github.com/repoup/repoup/deb"
	"github.com/repoup/repoup/event"
	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/internal/envconfig"
	"github.com/repoup/repoup/repoerr"
	"github.com/repoup/repoup/rpm"
	"github.com/repoup/repoup/storage"
)

// Config is every RPM_*/DEB_* environment-derived setting a
// Dispatcher needs to resolve and open either repository kind.
type Config struct {
	RPMBaseURL string
	RPM        rpm.Config

	DEB deb.Config
}

// LoadConfig reads the environment variables spec §6 names, applying
// the same defaults rpm.DefaultConfig and an empty deb.Config would.
func LoadConfig() Config {
	rpmEnv := envconfig.New("RPM_")
	debEnv := envconfig.New("DEB_")

	cfg := rpm.DefaultConfig()
	cfg.ChecksumType = rpmEnv.GetString("CHECKSUM_TYPE", cfg.ChecksumType)
	cfg.Compression = compression.Kind(rpmEnv.GetString("COMPRESSION", string(cfg.Compression)))
	cfg.DBCompression = compression.Kind(rpmEnv.GetString("DB_COMPRESSION", string(cfg.DBCompression)))
	// RPM_GPG_REQUIRE_SUDO, per spec §6; GPGVerify/GPGClear have no
	// named environment variable in spec §6, so they keep sane defaults
	// (re-verify after signing on, clear the key on transaction close).
	cfg.RequireSudoForRPM = rpmEnv.GetBool("GPG_REQUIRE_SUDO", false)
	cfg.GPGVerify = true
	cfg.GPGClear = true

	return Config{
		RPMBaseURL: rpmEnv.GetString("BASEURL", ""),
		RPM:        cfg,
		DEB: deb.Config{
			URL:       debEnv.GetString("URL", ""),
			Suite:     debEnv.GetString("SUITE", ""),
			Codename:  debEnv.GetString("CODENAME", ""),
			Component: debEnv.GetString("COMPONENT", "main"),
		},
	}
}

// Dispatcher drives one repository transaction per Handle call,
// reusing a single GPG session across the process lifetime — spec
// §5's shared-resource policy assumes exactly one active GPG session
// per process, so every entrypoint constructs one Dispatcher and
// calls Handle repeatedly rather than rebuilding the session per event.
type Dispatcher struct {
	cfg    Config
	opener storage.Opener
	gpg    *gpgsession.Session
	log    logrus.FieldLogger
}

// New builds a Dispatcher. log may be nil, in which case logrus's
// standard logger is used.
func New(cfg Config, opener storage.Opener, gpg *gpgsession.Session, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{cfg: cfg, opener: opener, gpg: gpg, log: log}
}

// Handle implements event.Handler: it resolves key's repository kind
// by file extension, opens a transaction against it, and applies
// action, mirroring get_repository(url).add(key)/.remove(key).
func (d *Dispatcher) Handle(ctx context.Context, bucket, key string, action event.Action) error {
	filename := path.Base(key)
	vars := map[string]string{}
	if bucket != "" {
		vars["bucket"] = bucket
	}

	logger := d.log.WithFields(logrus.Fields{
		"package": filename,
		"action":  string(action),
	})

	switch ext := strings.ToLower(path.Ext(filename)); ext {
	case ".rpm":
		return d.handleRPM(ctx, key, filename, vars, action, logger)
	case ".deb":
		return d.handleDEB(ctx, key, filename, vars, action, logger)
	default:
		return repoerr.NewInvalidPackage(filename, fmt.Sprintf("unrecognized package extension %q", ext))
	}
}

// Stage resolves localPath's repository the same way Handle would,
// uploads it into that repository's own storage under its base name,
// and returns the key Handle(ctx, "", key, event.ActionAdd) expects —
// the local-CLI equivalent of a producer having already placed the
// object in the bucket an S3 "ObjectCreated:*" event reports.
func (d *Dispatcher) Stage(ctx context.Context, localPath string, vars map[string]string) (key string, err error) {
	filename := path.Base(localPath)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("dispatch: reading %s: %w", localPath, err)
	}

	var url string
	switch ext := strings.ToLower(path.Ext(filename)); ext {
	case ".rpm":
		url, err = rpm.FindRepository(d.cfg.RPMBaseURL, filename, vars)
	case ".deb":
		var rcfg deb.ResolvedConfig
		rcfg, err = deb.FindRepository(d.cfg.DEB, filename, vars)
		url = rcfg.URL
	default:
		return "", repoerr.NewInvalidPackage(filename, fmt.Sprintf("unrecognized package extension %q", ext))
	}
	if err != nil {
		return "", err
	}

	driver, err := d.opener(ctx, url)
	if err != nil {
		return "", err
	}
	defer driver.Close()

	if err := driver.PutObject(ctx, filename, data, true); err != nil {
		return "", err
	}
	return filename, nil
}

func (d *Dispatcher) handleRPM(ctx context.Context, key, filename string, vars map[string]string,
	action event.Action, logger logrus.FieldLogger) error {

	url, err := rpm.FindRepository(d.cfg.RPMBaseURL, filename, vars)
	if err != nil {
		return err
	}
	logger = logger.WithField("repository_url", url)

	repo, err := rpm.Open(ctx, url, d.opener, d.gpg, d.cfg.RPM)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(ctx); err != nil {
			logger.WithError(err).Error("closing rpm repository transaction")
		}
	}()

	switch action {
	case event.ActionAdd:
		if _, err := repo.Add(ctx, key, true); err != nil {
			return err
		}
		logger.Info("added rpm package")
	case event.ActionRemove:
		if err := repo.Remove(ctx, filename); err != nil {
			return err
		}
		logger.Info("removed rpm package")
	}
	return nil
}

func (d *Dispatcher) handleDEB(ctx context.Context, key, filename string, vars map[string]string,
	action event.Action, logger logrus.FieldLogger) error {

	rcfg, err := deb.FindRepository(d.cfg.DEB, filename, vars)
	if err != nil {
		return err
	}
	logger = logger.WithField("repository_url", rcfg.URL)

	repo, err := deb.Open(ctx, rcfg, d.opener, d.gpg)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(ctx); err != nil {
			logger.WithError(err).Error("closing deb repository transaction")
		}
	}()

	switch action {
	case event.ActionAdd:
		if _, err := repo.Add(ctx, key, true); err != nil {
			return err
		}
		logger.Info("added deb package")
	case event.ActionRemove:
		if err := repo.Remove(ctx, filename); err != nil {
			return err
		}
		logger.Info("removed deb package")
	}
	return nil
}
