package rpm

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	cgrpm "github.com/cavaliergopher/rpm"
)

// Dependency is one provides/requires/conflicts/obsoletes entry.
type Dependency struct {
	Name    string
	Flags   string
	Version string
}

// Package is the metadata this system tracks for one RPM, the fields
// primary.xml/filelists.xml/other.xml/the sqlite databases need.
type Package struct {
	Name, Version, Release, Arch string
	Epoch                        int

	NVRA string

	LocationHref string

	ChecksumType string
	Checksum     string

	Summary, Description string
	Group, License, Vendor, URL string
	PackagerName                string
	BuildTime                   int64

	PackageSize   int64
	InstalledSize int64
	ArchiveSize   int64

	Files []string

	Provides, Requires, Conflicts, Obsoletes []Dependency
}

// packageFromRPM reads metadata from an RPM file on disk and computes
// its checksum with checksumType ("sha256", "sha1", "sha512" or "md5";
// empty means "sha256"), mirroring
// cr.package_from_rpm.
func packageFromRPM(path string, checksumType string) (*Package, error) {
	pkg, err := cgrpm.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("rpm: reading package headers: %w", err)
	}

	checksum, size, err := hashFile(path, checksumType)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(pkg.Files()))
	for _, f := range pkg.Files() {
		files = append(files, f.Name())
	}

	provides := convertDeps(pkg.Provides())
	requires := convertDeps(pkg.Requires())
	conflicts := convertDeps(pkg.Conflicts())
	obsoletes := convertDeps(pkg.Obsoletes())

	p := &Package{
		Name:          pkg.Name(),
		Version:       pkg.Version(),
		Release:       pkg.Release(),
		Arch:          pkg.Architecture(),
		Epoch:         pkg.Epoch(),
		ChecksumType:  checksumType,
		Checksum:      checksum,
		Summary:       pkg.Summary(),
		Description:   pkg.Description(),
		Group:         pkg.Group(),
		License:       pkg.License(),
		Vendor:        pkg.Vendor(),
		URL:           pkg.URL(),
		BuildTime:     pkg.BuildTime().Unix(),
		PackageSize:   size,
		InstalledSize: pkg.Size(),
		Files:         files,
		Provides:      provides,
		Requires:      requires,
		Conflicts:     conflicts,
		Obsoletes:     obsoletes,
	}
	p.NVRA = p.Name + "-" + p.Version + "-" + p.Release + "." + p.Arch
	return p, nil
}

func convertDeps(deps []cgrpm.Dependency) []Dependency {
	out := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		out = append(out, Dependency{Name: d.Name(), Flags: d.Flags().String(), Version: d.Version()})
	}
	return out
}

func hashFile(path string, checksumType string) (hexDigest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h, err := newHasher(checksumType)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// newHasher returns the hash.Hash for checksumType, the repository's
// checksum_type setting (default sha256), per spec §4.5 step 3.
func newHasher(checksumType string) (hash.Hash, error) {
	switch checksumType {
	case "sha256", "":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("rpm: unsupported checksum type %q", checksumType)
	}
}

// NEVRA renders "<name>-<epoch>:<version>-<release>.<arch>" when the
// package carries a non-zero epoch, matching createrepo_c's nevra().
func (p *Package) NEVRA() string {
	if p.Epoch == 0 {
		return p.NVRA
	}
	return fmt.Sprintf("%s-%d:%s-%s.%s", p.Name, p.Epoch, p.Version, p.Release, p.Arch)
}
