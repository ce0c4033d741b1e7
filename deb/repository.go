package deb

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"pault.ag/go/debian/control"

	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/repoerr"
	"github.com/repoup/repoup/storage"
	"github.com/repoup/repoup/transaction"
)

// Repository is a transaction.Repository scoped to exactly one
// (codename, component, architecture) triple, generalizing the
// teacher's read-only archive.Archive/Suite/Binaries model
// (archive.go) into something that adds and removes packages and
// republishes the affected Packages/Contents/Release/InRelease/by-hash
// files, the way deb.Repository does across one "async with"
// transaction.
type Repository struct {
	base *transaction.Base
	gpg  *gpgsession.Session

	component, arch, codename, suite string
	distRoot                         string

	mu       sync.Mutex
	pkgs     map[string]*Package // by filename
	contents []contentsEntry
	release  *Release

	// loadedByHash tracks every by-hash object path this Release
	// referenced when the transaction opened; save() subtracts
	// whatever is still referenced afterwards and schedules the
	// remainder for deletion, the churn-minimizing approach rpm's
	// outdatedFiles set takes.
	loadedByHash map[string]struct{}
}

// Open opens (or initializes, if absent) the "dists/<codename>" tree
// for rcfg's component/architecture, the deb.Repository equivalent of
// rpm.Open.
func Open(ctx context.Context, rcfg ResolvedConfig, opener storage.Opener, gpg *gpgsession.Session) (*Repository, error) {
	r := &Repository{
		gpg:          gpg,
		component:    rcfg.Component,
		arch:         rcfg.Architecture,
		codename:     rcfg.Codename,
		suite:        rcfg.Suite,
		distRoot:     path.Join("dists", rcfg.Codename),
		pkgs:         map[string]*Package{},
		loadedByHash: map[string]struct{}{},
	}

	base, err := transaction.Open(ctx, rcfg.URL, opener, gpg, r.load, r.save, true)
	if err != nil {
		return nil, err
	}
	r.base = base
	return r, nil
}

func (r *Repository) releasePath() string  { return path.Join(r.distRoot, "Release") }
func (r *Repository) inReleasePath() string { return path.Join(r.distRoot, "InRelease") }
func (r *Repository) gpgReleasePath() string { return path.Join(r.distRoot, "Release.gpg") }

func (r *Repository) packagesBase(ext string) string {
	return path.Join(r.distRoot, indexRelpath(r.component, r.arch, "Packages"+ext))
}

func (r *Repository) contentsPath(ext string) string {
	return path.Join(r.distRoot, contentsRelpath(r.component, r.arch)+ext)
}

func (r *Repository) load(ctx context.Context) error {
	data, err := r.base.Storage.GetObject(ctx, r.releasePath(), false)
	if err != nil {
		if _, ok := err.(*repoerr.PackageNotFound); !ok {
			return err
		}
		r.release = &Release{
			Suite:         r.suite,
			Codename:      r.codename,
			AcquireByHash: true,
		}
	} else {
		rel := &Release{}
		if err := control.Unmarshal(rel, bytes.NewReader(data)); err != nil {
			return err
		}
		r.release = rel
		for hashPath := range r.release.byHashEntries(r.distRoot) {
			r.loadedByHash[hashPath] = struct{}{}
		}
	}
	r.release.addComponent(r.component)
	r.release.addArchitecture(r.arch)

	if data, err := r.base.Storage.GetObject(ctx, r.packagesBase(""), false); err == nil {
		if err := r.loadPackages(data); err != nil {
			return err
		}
	} else if _, ok := err.(*repoerr.PackageNotFound); !ok {
		return err
	}

	if data, err := r.base.Storage.GetObject(ctx, r.contentsPath(""), false); err == nil {
		r.contents = parseContents(data)
	} else if _, ok := err.(*repoerr.PackageNotFound); !ok {
		return err
	}

	return nil
}

func (r *Repository) loadPackages(data []byte) error {
	decoder, err := control.NewDecoder(bytes.NewReader(data), nil)
	if err != nil {
		return err
	}
	for {
		pkg := &Package{}
		if err := decoder.Decode(pkg); err != nil {
			break
		}
		r.pkgs[path.Base(pkg.Filename)] = pkg
	}
	return nil
}

func parseContents(data []byte) []contentsEntry {
	var entries []contentsEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ' ')
		if idx < 0 {
			continue
		}
		filePath := line[:idx]
		owners := strings.Split(line[idx+1:], ",")
		entries = append(entries, contentsEntry{path: filePath, owners: owners})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })
	return entries
}

func renderContents(entries []contentsEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s %s\n", e.path, strings.Join(e.owners, ","))
	}
	return buf.Bytes()
}

// Add uploads the package at srcPath into the pool and records it for
// the Packages/Contents indices, mirroring deb.Repository.add; Close's
// save() pass republishes the indices and Release.
func (r *Repository) Add(ctx context.Context, srcPath string, removeSource bool) (string, error) {
	filename := path.Base(srcPath)

	r.mu.Lock()
	_, exists := r.pkgs[filename]
	r.mu.Unlock()
	if exists {
		return "", &repoerr.PackageAlreadyExists{Filename: filename}
	}

	parsed, err := parsePkgName(filename)
	if err != nil {
		return "", err
	}
	dstPath := poolPath(r.component, parsed.Name, filename)

	moved := dstPath != srcPath
	if err := r.base.Storage.GetFile(ctx, srcPath, filename, true); err != nil {
		return "", err
	}
	local := r.base.Storage.TmpJoin(filename)

	pkg, files, err := packageFromDeb(local, filename, dstPath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return "", err
	}

	owner := r.component + "/" + pkg.Package

	r.mu.Lock()
	r.pkgs[filename] = pkg
	r.contents, _ = updateContentsEntries(owner, files, r.contents)
	r.mu.Unlock()

	var jobs []transaction.Job
	if moved {
		jobs = append(jobs, func(ctx context.Context) error {
			return r.base.Storage.PutObject(ctx, dstPath, data, true)
		})
		if removeSource {
			jobs = append(jobs, func(ctx context.Context) error {
				return r.base.Storage.Remove(ctx, srcPath, true)
			})
		}
	}
	if err := transaction.Parallel(ctx, 2, jobs); err != nil {
		return "", err
	}
	r.base.MarkChanged(dstPath)
	_ = r.base.Storage.RemoveTmp(filename)

	return dstPath, nil
}

// Remove drops filename from the pool's tracked package set and
// deletes the pool object at once; Close's save() pass republishes the
// indices. A filename not in the set returns *repoerr.PackageNotFound.
func (r *Repository) Remove(ctx context.Context, filename string) error {
	base := path.Base(filename)

	r.mu.Lock()
	pkg, ok := r.pkgs[base]
	if !ok {
		r.mu.Unlock()
		return &repoerr.PackageNotFound{Key: filename}
	}
	delete(r.pkgs, base)
	owner := r.component + "/" + pkg.Package
	r.contents, _ = updateContentsEntries(owner, nil, r.contents)
	r.mu.Unlock()

	return r.base.MarkForDeletion(ctx, pkg.Filename)
}

func (r *Repository) Close(ctx context.Context) error {
	return r.base.Close(ctx)
}

type writtenFile struct {
	relpath string
	data    []byte
}

func (r *Repository) save(ctx context.Context) error {
	r.mu.Lock()
	pkgs := make([]*Package, 0, len(r.pkgs))
	for _, pkg := range r.pkgs {
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Package < pkgs[j].Package })
	contents := append([]contentsEntry(nil), r.contents...)
	r.mu.Unlock()

	var packagesBuf bytes.Buffer
	encoder, err := control.NewEncoder(&packagesBuf)
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		if err := encoder.Encode(pkg); err != nil {
			return err
		}
	}

	var written []writtenFile
	written = append(written, writtenFile{indexRelpath(r.component, r.arch, "Packages"), packagesBuf.Bytes()})

	gzPackages, err := gzipBytes(packagesBuf.Bytes())
	if err != nil {
		return err
	}
	written = append(written, writtenFile{indexRelpath(r.component, r.arch, "Packages.gz"), gzPackages})

	xzPackages, err := xzBytes(packagesBuf.Bytes())
	if err != nil {
		return err
	}
	written = append(written, writtenFile{indexRelpath(r.component, r.arch, "Packages.xz"), xzPackages})

	contentsData := renderContents(contents)
	written = append(written, writtenFile{contentsRelpath(r.component, r.arch), contentsData})

	gzContents, err := gzipBytes(contentsData)
	if err != nil {
		return err
	}
	written = append(written, writtenFile{contentsRelpath(r.component, r.arch) + ".gz", gzContents})

	var archRelease bytes.Buffer
	fmt.Fprintf(&archRelease, "Archive: %s\nComponent: %s\nArchitecture: %s\n", r.suite, r.component, r.arch)
	written = append(written, writtenFile{indexRelpath(r.component, r.arch, "Release"), archRelease.Bytes()})

	// oldDigests snapshots each relpath's previously published sha256
	// before removeFile clears the Release's hash lists, so a file whose
	// content is unchanged from the prior transaction can skip
	// re-upload (and keep its existing by-hash objects) entirely,
	// mirroring rpm's outdatedFiles churn minimisation.
	oldDigests := map[string]string{}
	for _, h := range r.release.SHA256 {
		oldDigests[h.Filename] = h.Hash
	}

	r.release.removeFile(indexRelpath(r.component, r.arch, "Packages"))
	r.release.removeFile(indexRelpath(r.component, r.arch, "Packages.gz"))
	r.release.removeFile(indexRelpath(r.component, r.arch, "Packages.xz"))
	r.release.removeFile(contentsRelpath(r.component, r.arch))
	r.release.removeFile(contentsRelpath(r.component, r.arch) + ".gz")
	r.release.removeFile(indexRelpath(r.component, r.arch, "Release"))

	hashAlgos := []string{"md5", "sha1", "sha256"}
	newByHash := map[string]struct{}{}
	var jobs []transaction.Job
	for _, wf := range written {
		wf := wf

		hashes := make(map[string]control.FileHash, len(hashAlgos))
		for _, algo := range hashAlgos {
			fh := newFileHash(algo, wf.relpath, wf.data)
			hashes[algo] = fh
			if err := r.release.AddHash(fh); err != nil {
				return err
			}
		}

		indexFull := path.Join(r.distRoot, wf.relpath)
		dirName := path.Dir(wf.relpath)
		byHashFull := make(map[string]string, len(hashAlgos))
		for _, algo := range hashAlgos {
			full := path.Join(r.distRoot, byHashPath(dirName, releaseFieldNames[algo], hashes[algo].Hash))
			byHashFull[algo] = full
			newByHash[full] = struct{}{}
		}

		if oldDigests[wf.relpath] == hashes["sha256"].Hash {
			continue
		}

		jobs = append(jobs, func(ctx context.Context) error {
			if err := r.base.Storage.PutObject(ctx, indexFull, wf.data, false); err != nil {
				return err
			}
			for _, full := range byHashFull {
				if err := r.base.Storage.PutObject(ctx, full, wf.data, false); err != nil {
					return err
				}
			}
			return nil
		})
		r.base.MarkChanged(indexFull)
		for _, full := range byHashFull {
			r.base.MarkChanged(full)
		}
	}

	r.release.Date = time.Now().UTC().Format(time.RFC1123)

	releaseData, err := marshalRelease(r.release)
	if err != nil {
		return err
	}

	if r.gpg.Enabled() {
		jobs = append(jobs, func(ctx context.Context) error {
			return r.signRelease(ctx, releaseData)
		})
	} else {
		jobs = append(jobs, func(ctx context.Context) error {
			if err := r.base.Storage.PutObject(ctx, r.releasePath(), releaseData, false); err != nil {
				return err
			}
			return r.base.Storage.PutObject(ctx, r.inReleasePath(), releaseData, false)
		})
	}

	for oldHash := range r.loadedByHash {
		if _, stillUsed := newByHash[oldHash]; !stillUsed {
			if err := r.base.MarkForDeletion(ctx, oldHash); err != nil {
				return err
			}
		}
	}

	if err := transaction.Parallel(ctx, 4, jobs); err != nil {
		return err
	}
	r.base.MarkChanged(r.releasePath())
	r.base.MarkChanged(r.inReleasePath())
	return nil
}

func (r *Repository) signRelease(ctx context.Context, releaseData []byte) error {
	const local = "Release"
	localPath := filepath.Join(r.base.Storage.Path(), local)
	if err := os.WriteFile(localPath, releaseData, 0o644); err != nil {
		return err
	}
	if err := r.base.Storage.PutObject(ctx, r.releasePath(), releaseData, false); err != nil {
		return err
	}

	ascRelpath, err := r.gpg.SignDetached(ctx, local)
	if err != nil {
		return err
	}
	ascData, err := os.ReadFile(filepath.Join(r.base.Storage.Path(), ascRelpath))
	if err != nil {
		return err
	}
	if err := r.base.Storage.PutObject(ctx, r.gpgReleasePath(), ascData, false); err != nil {
		return err
	}

	const inReleaseLocal = "Release.inrelease"
	if err := r.gpg.SignCleartext(ctx, local, inReleaseLocal); err != nil {
		return err
	}
	inReleaseData, err := os.ReadFile(filepath.Join(r.base.Storage.Path(), inReleaseLocal))
	if err != nil {
		return err
	}
	return r.base.Storage.PutObject(ctx, r.inReleasePath(), inReleaseData, false)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xzBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newFileHash(algorithm, filename string, data []byte) control.FileHash {
	var digest string
	switch algorithm {
	case "md5":
		sum := md5.Sum(data)
		digest = hex.EncodeToString(sum[:])
	case "sha1":
		sum := sha1.Sum(data)
		digest = hex.EncodeToString(sum[:])
	case "sha256":
		digest = sha256Hex(data)
	case "sha512":
		sum := sha512.Sum512(data)
		digest = hex.EncodeToString(sum[:])
	}
	return control.FileHash{
		Filename:  filename,
		Algorithm: algorithm,
		Hash:      digest,
		Size:      int64(len(data)),
	}
}
