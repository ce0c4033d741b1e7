package deb

import (
	"bytes"
	"fmt"
	"path"
	"sort"

	"pault.ag/go/debian/control"
)

// Release is the "dists/<codename>/Release" document, the same shape
// as the teacher's read-only archive.Release generalized so it can
// also be built and re-marshalled on every transaction.
type Release struct {
	control.Paragraph

	Description string
	Origin      string
	Label       string
	Version     string
	Suite       string
	Codename    string

	Components    []string `delim:" "`
	Architectures []string `delim:" "`

	Date       string
	ValidUntil string `control:"Valid-Until"`

	MD5Sum []control.MD5FileHash    `delim:"\n" strip:" \t\n\r" multiline:"true"`
	SHA1   []control.SHA1FileHash   `delim:"\n" strip:" \t\n\r" multiline:"true"`
	SHA256 []control.SHA256FileHash `delim:"\n" strip:" \t\n\r" multiline:"true"`
	SHA512 []control.SHA512FileHash `delim:"\n" strip:" \t\n\r" multiline:"true"`

	NotAutomatic         string
	ButAutomaticUpgrades string

	AcquireByHash bool `control:"Acquire-By-Hash"`
}

// AddHash records a freshly-written index file's digest under the
// matching Release field, mirroring archive.Release.AddHash.
func (r *Release) AddHash(h control.FileHash) error {
	switch h.Algorithm {
	case "sha256":
		r.SHA256 = append(r.SHA256, control.SHA256FileHash{FileHash: h})
	case "sha1":
		r.SHA1 = append(r.SHA1, control.SHA1FileHash{FileHash: h})
	case "sha512":
		r.SHA512 = append(r.SHA512, control.SHA512FileHash{FileHash: h})
	case "md5":
		r.MD5Sum = append(r.MD5Sum, control.MD5FileHash{FileHash: h})
	default:
		return fmt.Errorf("deb: no known hash algorithm %q", h.Algorithm)
	}
	return nil
}

// removeFile drops every hash entry recorded for name, the companion
// of AddHash: save calls it for each index file it regenerates before
// adding that file's new hashes. An architecture with no packages
// left keeps an empty Packages file, so Architectures/Components never
// shrink once observed.
func (r *Release) removeFile(name string) {
	r.MD5Sum = filterFileHash(r.MD5Sum, name)
	r.SHA1 = filterSHA1(r.SHA1, name)
	r.SHA256 = filterSHA256(r.SHA256, name)
	r.SHA512 = filterSHA512(r.SHA512, name)
}

func filterFileHash(hashes []control.MD5FileHash, name string) []control.MD5FileHash {
	out := hashes[:0]
	for _, h := range hashes {
		if h.Filename != name {
			out = append(out, h)
		}
	}
	return out
}

func filterSHA1(hashes []control.SHA1FileHash, name string) []control.SHA1FileHash {
	out := hashes[:0]
	for _, h := range hashes {
		if h.Filename != name {
			out = append(out, h)
		}
	}
	return out
}

func filterSHA256(hashes []control.SHA256FileHash, name string) []control.SHA256FileHash {
	out := hashes[:0]
	for _, h := range hashes {
		if h.Filename != name {
			out = append(out, h)
		}
	}
	return out
}

func filterSHA512(hashes []control.SHA512FileHash, name string) []control.SHA512FileHash {
	out := hashes[:0]
	for _, h := range hashes {
		if h.Filename != name {
			out = append(out, h)
		}
	}
	return out
}

// addComponent/addArchitecture grow the Release's Components and
// Architectures lists the first time either is newly observed,
// reflecting how the original accumulates them across independent
// transactions rather than scoping them to the current one.
func (r *Release) addComponent(component string) {
	if !containsString(r.Components, component) {
		r.Components = append(r.Components, component)
		sort.Strings(r.Components)
	}
}

func (r *Release) addArchitecture(arch string) {
	if !containsString(r.Architectures, arch) {
		r.Architectures = append(r.Architectures, arch)
		sort.Strings(r.Architectures)
	}
}

// byHashPath renders "<dirname(indexName)>/by-hash/<Field>/<digest>"
// for a file declared in the Release, the layout test_add_remove_package
// asserts every MD5Sum/SHA256 entry resolves to.
func byHashPath(dirName, field, digest string) string {
	return path.Join(dirName, "by-hash", field, digest)
}

var releaseFieldNames = map[string]string{
	"md5":    "MD5Sum",
	"sha1":   "SHA1",
	"sha256": "SHA256",
	"sha512": "SHA512",
}

// byHashEntries enumerates every (indexRelativePath, byHashPath) pair
// a published Release implies, so the repository can publish (and,
// for entries that disappear, clean up) each by-hash object alongside
// the plain-named index file.
func (r *Release) byHashEntries(distRoot string) map[string]string {
	paths := map[string]string{}
	add := func(field string, filename, digest string) {
		dirName := path.Dir(filename)
		indexPath := path.Join(distRoot, filename)
		hashPath := path.Join(distRoot, byHashPath(dirName, field, digest))
		paths[hashPath] = indexPath
	}
	for _, h := range r.MD5Sum {
		add(releaseFieldNames["md5"], h.Filename, h.Hash)
	}
	for _, h := range r.SHA1 {
		add(releaseFieldNames["sha1"], h.Filename, h.Hash)
	}
	for _, h := range r.SHA256 {
		add(releaseFieldNames["sha256"], h.Filename, h.Hash)
	}
	for _, h := range r.SHA512 {
		add(releaseFieldNames["sha512"], h.Filename, h.Hash)
	}
	return paths
}

// marshalRelease renders the Release document's control-file bytes.
func marshalRelease(r *Release) ([]byte, error) {
	var buf bytes.Buffer
	if err := control.Marshal(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// indexRelpath renders "<component>/binary-<arch>/<name>" or
// "<component>/<name>", the path an index file occupies relative to
// the codename's "dists/<codename>/" root.
func indexRelpath(component, arch, name string) string {
	if arch == "" {
		return path.Join(component, name)
	}
	return path.Join(component, fmt.Sprintf("binary-%s", arch), name)
}

func contentsRelpath(component, arch string) string {
	return path.Join(component, fmt.Sprintf("Contents-%s", arch))
}
