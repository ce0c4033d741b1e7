// Package rpm implements an RPM "repodata" repository as a
// transaction.Repository: adding and removing packages updates an
// in-memory index, and saving regenerates primary/filelists/other
// (XML + SQLite) and repomd.xml, skipping re-upload of any metadata
// file whose content hash did not change. Grounded line-for-line on
// repoup.repository.rpm.Repository from the recovered Python original.
package rpm

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/repoup/repoup/compression"
	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/repoerr"
	"github.com/repoup/repoup/storage"
	"github.com/repoup/repoup/subprocess"
	"github.com/repoup/repoup/transaction"
)

const (
	repodataDir = "repodata"
	repomdPath  = repodataDir + "/repomd.xml"
)

var recordTypes = []string{"primary", "filelists", "other"}

// Config configures an RPM repository's metadata generation and
// signing. It reads no environment variables itself: dispatch.LoadConfig
// fills it from RPM_CHECKSUM_TYPE/RPM_COMPRESSION/RPM_DB_COMPRESSION/
// RPM_GPG_REQUIRE_SUDO. An empty ChecksumType means sha256; an empty
// Compression or DBCompression leaves that metadata uncompressed.
type Config struct {
	ChecksumType      string
	Compression       compression.Kind
	DBCompression     compression.Kind
	GPGVerify         bool
	GPGClear          bool
	RequireSudoForRPM bool
}

// DefaultConfig mirrors the original's SHA256/gzip/bzip2 defaults.
func DefaultConfig() Config {
	return Config{
		ChecksumType:  "sha256",
		Compression:   compression.GZ,
		DBCompression: compression.BZ2,
	}
}

// Repository is an open RPM repository transaction.
type Repository struct {
	base   *transaction.Base
	gpg    *gpgsession.Session
	cfg    Config
	runner *subprocess.Runner

	mu            sync.Mutex
	pkgs          map[string]map[string]*Package // recordType -> NVRA -> Package
	outdatedFiles map[string]struct{}
}

// Open starts an RPM repository transaction against url.
func Open(ctx context.Context, url string, opener storage.Opener, gpg *gpgsession.Session, cfg Config) (*Repository, error) {
	r := &Repository{
		gpg: gpg,
		cfg: cfg,
		pkgs: map[string]map[string]*Package{
			"primary": {}, "filelists": {}, "other": {},
		},
		outdatedFiles: map[string]struct{}{},
	}

	base, err := transaction.Open(ctx, url, opener, gpg, r.load, r.save, cfg.GPGClear)
	if err != nil {
		return nil, err
	}
	r.base = base
	r.runner = subprocess.New(base.Storage.Path())

	if gpg.Enabled() && cfg.GPGVerify {
		if _, err := r.runner.Run(ctx, r.rpmArgv("--import", gpg.PublicKeyPath()), subprocess.DefaultOptions()); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Repository) rpmArgv(args ...string) []string {
	argv := []string{"rpm"}
	if r.cfg.RequireSudoForRPM {
		argv = append([]string{"sudo"}, argv...)
	}
	return append(argv, args...)
}

// Add ingests the package at path (an absolute path outside the
// scratch directory) into the repository.
func (r *Repository) Add(ctx context.Context, srcPath string, removeSource bool) (string, error) {
	filename := path.Base(srcPath)
	dstPath := r.base.Storage.Join([]string{filename}, false)
	pkgName := strings.TrimSuffix(filename, ".rpm")

	r.mu.Lock()
	_, exists := r.pkgs["primary"][pkgName]
	r.mu.Unlock()
	if exists {
		if srcPath != dstPath {
			_ = r.base.Storage.Remove(ctx, srcPath, true)
		}
		return "", &repoerr.PackageAlreadyExists{Filename: filename}
	}

	if err := r.base.Storage.GetFile(ctx, srcPath, filename, true); err != nil {
		return "", err
	}

	signed, err := r.signPackage(ctx, filename)
	if err != nil {
		return "", err
	}

	pkg, err := packageFromRPM(r.base.Storage.TmpJoin(filename), r.cfg.ChecksumType)
	if err != nil {
		return "", err
	}

	nvra := pkg.NVRA
	nevra := pkg.NEVRA()
	if pkgName != nvra && pkgName != nevra {
		return "", repoerr.NewInvalidPackage(filename,
			"RPM package filename must match NVRA or NEVRA from its metadata: "+nvra)
	}
	pkg.LocationHref = filename

	r.mu.Lock()
	for _, table := range r.pkgs {
		if _, already := table[pkg.NVRA]; !already {
			table[pkg.NVRA] = pkg
		}
	}
	r.mu.Unlock()

	var jobs []transaction.Job
	if signed || srcPath != dstPath {
		jobs = append(jobs, func(ctx context.Context) error {
			return r.base.Storage.PutFile(ctx, filename, false)
		})
	}
	r.base.MarkChanged(filename)
	if removeSource && srcPath != dstPath {
		jobs = append(jobs, func(ctx context.Context) error {
			return r.base.Storage.Remove(ctx, srcPath, true)
		})
	}

	if err := transaction.Parallel(ctx, 2, jobs); err != nil {
		return "", err
	}
	if err := r.base.Storage.RemoveTmp(filename); err != nil {
		return "", err
	}
	return dstPath, nil
}

// Remove deletes filename from the repository's index, if present.
func (r *Repository) Remove(ctx context.Context, filename string) error {
	filename = path.Base(filename)
	nvra := strings.TrimSuffix(filename, ".rpm")

	r.mu.Lock()
	for _, table := range r.pkgs {
		delete(table, nvra)
	}
	r.mu.Unlock()

	return r.base.MarkForDeletion(ctx, filename)
}

// Close flushes metadata and releases the transaction.
func (r *Repository) Close(ctx context.Context) error {
	return r.base.Close(ctx)
}

func (r *Repository) signPackage(ctx context.Context, filename string) (bool, error) {
	if !r.gpg.Enabled() {
		return false, nil
	}
	argv := []string{"rpm", "--addsign", "--define", "%_gpg_name " + r.gpg.UserID(), filename}
	if _, err := r.runner.Run(ctx, argv, subprocess.DefaultOptions()); err != nil {
		return false, err
	}
	if r.cfg.GPGVerify {
		if _, err := r.runner.Run(ctx, r.rpmArgv("--checksig", filename), subprocess.DefaultOptions()); err != nil {
			return false, err
		}
	}
	return true, nil
}

// load reads the existing repomd.xml (if any) and the metadata files
// it references into the in-memory package tables.
func (r *Repository) load(ctx context.Context) error {
	if err := os.MkdirAll(r.base.Storage.TmpJoin(repodataDir), 0o755); err != nil {
		return err
	}

	if err := r.base.Storage.GetFile(ctx, repomdPath, "", false); err != nil {
		if _, ok := err.(*repoerr.PackageNotFound); ok {
			return nil
		}
		return err
	}

	records, err := parseRepomdLocations(r.base.Storage.TmpJoin(repomdPath))
	if err != nil {
		return err
	}

	wanted := make(map[string]string, len(recordTypes))
	for recordType, href := range records {
		r.outdatedFiles[href] = struct{}{}
		for _, rt := range recordTypes {
			if recordType == rt {
				wanted[rt] = href
			}
		}
	}

	var jobs []transaction.Job
	for _, href := range wanted {
		href := href
		jobs = append(jobs, func(ctx context.Context) error {
			return r.base.Storage.GetFile(ctx, href, "", false)
		})
	}
	if err := transaction.Parallel(ctx, 4, jobs); err != nil {
		return err
	}

	for recordType, href := range wanted {
		if err := r.loadRecord(recordType, href); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) loadRecord(recordType, href string) error {
	localPath := r.base.Storage.TmpJoin(href)
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := compression.Decompress(f, href, nil)
	if err != nil {
		return err
	}

	pkgs, err := parseRecordXML(recordType, reader)
	if err != nil {
		return err
	}
	table := r.pkgs[recordType]
	for _, pkg := range pkgs {
		table[pkg.NVRA] = pkg
	}
	return nil
}

// save regenerates primary/filelists/other and repomd.xml, skipping
// any metadata file whose content hash matches a file already present
// (the filename embeds the content checksum, so an unchanged file
// reuses its old name and is dropped from the upload/delete sets).
func (r *Repository) save(ctx context.Context) error {
	if err := os.MkdirAll(r.base.Storage.TmpJoin(repodataDir), 0o755); err != nil {
		return err
	}

	var records []repomdRecordResult
	for _, recordType := range recordTypes {
		result, err := r.saveRecord(ctx, recordType)
		if err != nil {
			return err
		}
		records = append(records, result...)
	}

	metadataFiles := make([]string, 0, len(records))
	for _, rec := range records {
		metadataFiles = append(metadataFiles, rec.Href)
	}

	remaining := metadataFiles[:0:0]
	for _, href := range metadataFiles {
		if _, outdated := r.outdatedFiles[href]; outdated {
			delete(r.outdatedFiles, href)
			continue
		}
		remaining = append(remaining, href)
	}

	if len(remaining) == 0 {
		return nil
	}

	repomd := buildRepomd(records)
	repomdBytes, err := marshalWithHeader(repomd)
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.base.Storage.TmpJoin(repomdPath), repomdBytes, 0o644); err != nil {
		return err
	}

	r.base.MarkChanged(repomdPath)
	for _, href := range remaining {
		r.base.MarkChanged(href)
	}
	for outdated := range r.outdatedFiles {
		if err := r.base.MarkForDeletion(ctx, outdated); err != nil {
			return err
		}
	}

	toUpload := append(append([]string{}, remaining...), repomdPath)

	var jobs []transaction.Job
	if r.gpg.Enabled() {
		jobs = append(jobs, func(ctx context.Context) error {
			_, err := r.gpg.SignDetached(ctx, repomdPath)
			if err != nil {
				return err
			}
			return r.base.Storage.PutFile(ctx, repomdPath+".asc", false)
		})
	}
	for _, href := range toUpload {
		href := href
		jobs = append(jobs, func(ctx context.Context) error {
			return r.base.Storage.PutFile(ctx, href, false)
		})
	}
	return transaction.Parallel(ctx, 4, jobs)
}

type repomdRecordResult struct {
	Type         string
	Href         string
	ChecksumType string
	Checksum     string
	Size         int64
	OpenChecksum string
	OpenSize     int64
	Compressed   bool
}

// saveRecord writes one of primary/filelists/other as XML (compressed
// per cfg.Compression) and SQLite (compressed per cfg.DBCompression),
// returning their repomd records.
func (r *Repository) saveRecord(ctx context.Context, recordType string) ([]repomdRecordResult, error) {
	r.mu.Lock()
	pkgs := make([]*Package, 0, len(r.pkgs[recordType]))
	for _, p := range r.pkgs[recordType] {
		pkgs = append(pkgs, p)
	}
	r.mu.Unlock()
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].NVRA < pkgs[j].NVRA })

	var render func([]*Package) ([]byte, error)
	switch recordType {
	case "primary":
		render = renderPrimary
	case "filelists":
		render = renderFilelists
	case "other":
		render = renderOther
	default:
		return nil, fmt.Errorf("rpm: unknown record type %q", recordType)
	}

	xmlData, err := render(pkgs)
	if err != nil {
		return nil, err
	}
	xmlResult, err := r.writeCompressedRecord(ctx, recordType, xmlData, r.cfg.Compression)
	if err != nil {
		return nil, err
	}

	sqlitePath := r.base.Storage.TmpJoin(repodataDir, recordType+".sqlite")
	if err := writeSQLite(sqlitePath, recordType, pkgs); err != nil {
		return nil, err
	}
	dbData, err := os.ReadFile(sqlitePath)
	if err != nil {
		return nil, err
	}
	dbResult, err := r.writeCompressedRecord(ctx, recordType+"_db", dbData, r.cfg.DBCompression)
	if err != nil {
		return nil, err
	}

	return []repomdRecordResult{dbResult, xmlResult}, nil
}

func (r *Repository) writeCompressedRecord(ctx context.Context, recordType string, data []byte, kind compression.Kind) (repomdRecordResult, error) {
	openChecksum, err := checksumHex(r.cfg.ChecksumType, data)
	if err != nil {
		return repomdRecordResult{}, err
	}

	var compressed []byte
	if kind == compression.BZ2 {
		uncompressedPath := r.base.Storage.TmpJoin(repodataDir, recordType+".raw")
		if err := os.WriteFile(uncompressedPath, data, 0o644); err != nil {
			return repomdRecordResult{}, err
		}
		relpath := path.Join(repodataDir, recordType+".raw")
		compressedRel, err := compression.CompressBZ2(ctx, r.runner, relpath)
		if err != nil {
			return repomdRecordResult{}, err
		}
		compressed, err = os.ReadFile(r.base.Storage.TmpJoin(compressedRel))
		if err != nil {
			return repomdRecordResult{}, err
		}
	} else {
		compressed, err = compression.Compress(kind, data)
		if err != nil {
			return repomdRecordResult{}, err
		}
	}

	checksum, err := checksumHex(r.cfg.ChecksumType, compressed)
	if err != nil {
		return repomdRecordResult{}, err
	}
	ext := ".xml"
	if strings.HasSuffix(recordType, "_db") {
		ext = ".sqlite"
	}
	filename := fmt.Sprintf("%s-%s%s%s", checksum[:16], recordType, ext, kind.Suffix())
	href := path.Join(repodataDir, filename)

	localPath := r.base.Storage.TmpJoin(href)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return repomdRecordResult{}, err
	}
	if err := os.WriteFile(localPath, compressed, 0o644); err != nil {
		return repomdRecordResult{}, err
	}

	checksumType := r.cfg.ChecksumType
	if checksumType == "" {
		checksumType = "sha256"
	}

	return repomdRecordResult{
		Type:         recordType,
		Href:         href,
		ChecksumType: checksumType,
		Checksum:     checksum,
		Size:         int64(len(compressed)),
		OpenChecksum: openChecksum,
		OpenSize:     int64(len(data)),
		Compressed:   kind != compression.None,
	}, nil
}

func buildRepomd(records []repomdRecordResult) repomdXML {
	repomd := repomdXML{Xmlns: repomdXMLNS, XmlnsRPM: repomdRPMNS}
	for _, rec := range records {
		data := repomdRecord{
			Type:     rec.Type,
			Checksum: repomdChecksum{Type: rec.ChecksumType, Value: rec.Checksum},
			Size:     rec.Size,
		}
		if rec.Compressed {
			data.OpenChecksum = &repomdChecksum{Type: rec.ChecksumType, Value: rec.OpenChecksum}
			data.OpenSize = rec.OpenSize
		}
		data.Location.Href = rec.Href
		repomd.Data = append(repomd.Data, data)
	}
	sort.Slice(repomd.Data, func(i, j int) bool { return repomd.Data[i].Type < repomd.Data[j].Type })
	return repomd
}
