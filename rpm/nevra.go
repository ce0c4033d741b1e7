package rpm

import (
	"path"
	"regexp"
	"strings"

	"github.com/repoup/repoup/internal/tmplvar"
	"github.com/repoup/repoup/repoerr"
)

// nevraPattern matches "<name>-<epoch>:<version>-<release>.<arch>.rpm",
// with the epoch segment optional, the same pattern _NEVRA compiles in
// the original implementation.
var nevraPattern = regexp.MustCompile(
	`(?i)^(?:.*/)?(?P<name>.*)-(?:(?P<epoch>\d+):)?(?P<version>.*)-(?P<release>.*)\.(?P<arch>.*)\.rpm$`,
)

// nevra is the parsed identity of an RPM filename.
type nevra struct {
	Name, Epoch, Version, Release, Arch string
}

func parseNEVRA(filename string) (nevra, bool) {
	m := nevraPattern.FindStringSubmatch(filename)
	if m == nil {
		return nevra{}, false
	}
	groups := make(map[string]string, len(m))
	for i, name := range nevraPattern.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}
	return nevra{
		Name:    groups["name"],
		Epoch:   groups["epoch"],
		Version: groups["version"],
		Release: groups["release"],
		Arch:    groups["arch"],
	}, true
}

// NVRA renders "<name>-<version>-<release>.<arch>", the identity
// createrepo_c's Package.nvra() exposes and the one the package
// filename (minus ".rpm") must match.
func (n nevra) NVRA() string {
	return n.Name + "-" + n.Version + "-" + n.Release + "." + n.Arch
}

// NEVRA renders "<name>-<epoch>:<version>-<release>.<arch>", used when
// the filename embeds an explicit epoch.
func (n nevra) NEVRA() string {
	if n.Epoch == "" {
		return n.NVRA()
	}
	return n.Name + "-" + n.Epoch + ":" + n.Version + "-" + n.Release + "." + n.Arch
}

const distTagPlaceholder = "%{?dist}"

// FindRepository resolves the storage URL for filename from baseurl,
// substituting $arch/$basearch (from the RPM filename's arch field)
// and, when baseurl references it, $releasever (from the dist tag
// embedded in the release field with its leading letters stripped,
// e.g. "1.el8" -> "8").
func FindRepository(baseurl, filename string, variables map[string]string) (string, error) {
	if baseurl == "" {
		return "", repoerr.NewConfigurationError(
			"BASEURL must be defined. It can be set using the RPM_BASEURL environment variable.")
	}

	n, ok := parseNEVRA(path.Base(filename))
	if !ok {
		return "", repoerr.NewInvalidPackage(filename,
			`unable to parse the package name; it must follow the RPM naming convention `+
				`"<name>-<version>-<release>.<arch>.rpm" with "release" in the form `+
				`"<number>.<dist>" (for instance "my_package-1.0.0-1.el8.noarch.rpm")`)
	}

	vars := make(map[string]string, len(variables)+3)
	for k, v := range variables {
		vars[k] = v
	}
	vars["arch"] = n.Arch
	vars["basearch"] = n.Arch

	if strings.Contains(baseurl, "$releasever") {
		parts := strings.SplitN(n.Release, ".", 2)
		if len(parts) < 2 {
			return "", repoerr.NewInvalidPackage(filename,
				`unable to get "releasever" from "release" value "`+n.Release+
					`"; the package "release" field must contain the dist tag and be in the `+
					`form "<number>.<dist>" (for instance "1.el8"), generally produced by `+
					`the dist macro in the RPM spec: "Release: 1`+distTagPlaceholder+`"`)
		}
		vars["releasever"] = strings.TrimLeft(parts[1], "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}

	return tmplvar.Expand(baseurl, vars)
}
