package deb

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"pault.ag/go/debian/control"

	"github.com/repoup/repoup/internal/tmplvar"
	"github.com/repoup/repoup/repoerr"
)

// parsedName is the identity parsed straight out of a ".deb" filename
// "<name>_<version>_<arch>.deb", the same fields _parse_pkg_name
// extracts before any control-file is even opened.
type parsedName struct {
	Name, Version, Arch string
}

// parsePkgName parses a ".deb" filename's trailing path component.
func parsePkgName(filename string) (parsedName, error) {
	base := path.Base(filename)
	base = strings.TrimSuffix(base, ".deb")
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return parsedName{}, repoerr.NewInvalidPackage(filename,
			`must follow the Debian naming convention "<name>_<version>_<arch>.deb"`)
	}
	return parsedName{Name: parts[0], Version: parts[1], Arch: parts[2]}, nil
}

// checkPkg verifies a parsed filename agrees with the package's own
// control stanza, the way _check_pkg rejects a mislabeled upload.
func checkPkg(parsed parsedName, ctrl control.Paragraph, filename string) error {
	mismatches := map[string]string{
		"Package":      parsed.Name,
		"Version":      parsed.Version,
		"Architecture": parsed.Arch,
	}
	for field, want := range mismatches {
		if got := ctrl.Values[field]; got != want {
			return repoerr.NewInvalidPackage(filename,
				fmt.Sprintf("control field %q is %q, filename implies %q", field, got, want))
		}
	}
	return nil
}

// hashDescription sets Description-md5 from Description, matching
// _hash_description. It is a no-op if the stanza has no Description.
func hashDescription(values map[string]string) {
	desc, ok := values["Description"]
	if !ok {
		return
	}
	sum := md5.Sum([]byte(desc))
	values["Description-md5"] = hex.EncodeToString(sum[:])
}

// ResolvedConfig is the repository configuration find_repository
// resolved for a specific package: the storage URL to use, and the
// suite/codename/component/architecture that place it within the
// "dists/" tree.
type ResolvedConfig struct {
	URL          string
	Suite        string
	Codename     string
	Component    string
	Architecture string
}

// Config is the static configuration a deployment supplies, mirroring
// deb.CONFIG's component/suite/codename/url entries. Codename may be
// left empty to auto-detect it from a package's "~<codename>" or
// "+<codename>" version suffix (Debian backport naming convention).
type Config struct {
	URL       string
	Suite     string
	Codename  string
	Component string
}

// FindRepository resolves cfg against filename (and any extra
// variables, e.g. "dist", used to expand $-templated Suite/Codename),
// mirroring deb.Repository.find_repository.
func FindRepository(cfg Config, filename string, variables map[string]string) (ResolvedConfig, error) {
	if cfg.URL == "" {
		return ResolvedConfig{}, repoerr.NewConfigurationError(
			"url must be defined in the repository configuration")
	}
	if cfg.Suite == "" && cfg.Codename == "" {
		return ResolvedConfig{}, repoerr.NewConfigurationError(
			"either suite or codename must be defined in the repository configuration")
	}

	parsed, err := parsePkgName(filename)
	if err != nil {
		return ResolvedConfig{}, err
	}

	vars := make(map[string]string, len(variables)+1)
	for k, v := range variables {
		vars[k] = v
	}
	vars["architecture"] = parsed.Arch

	codename := cfg.Codename
	if codename == "" {
		codename, err = detectCodename(parsed.Version, filename)
		if err != nil {
			return ResolvedConfig{}, err
		}
	} else {
		codename, err = tmplvar.Expand(codename, vars)
		if err != nil {
			return ResolvedConfig{}, err
		}
	}
	vars["dist"] = codename

	suite := cfg.Suite
	if suite == "" {
		suite = codename
	} else {
		suite, err = tmplvar.Expand(suite, vars)
		if err != nil {
			return ResolvedConfig{}, err
		}
	}

	url, err := tmplvar.Expand(cfg.URL, vars)
	if err != nil {
		return ResolvedConfig{}, err
	}

	return ResolvedConfig{
		URL:          url,
		Suite:        suite,
		Codename:     codename,
		Component:    cfg.Component,
		Architecture: parsed.Arch,
	}, nil
}

// detectCodename extracts a codename from a version string of the
// form "<upstream>-<revision>[~|+]<codename>", the convention many
// Debian backport builds use in lieu of a CONFIG["codename"] entry.
func detectCodename(version, filename string) (string, error) {
	dash := strings.LastIndex(version, "-")
	if dash < 0 {
		return "", repoerr.NewInvalidPackage(filename,
			`unable to detect "codename": version has no "-<revision>" component`)
	}
	revision := version[dash+1:]

	sep := strings.IndexAny(revision, "~+")
	if sep < 0 {
		return "", repoerr.NewInvalidPackage(filename,
			`unable to detect "codename": revision has no "~<codename>" or "+<codename>" suffix`)
	}
	return revision[sep+1:], nil
}
