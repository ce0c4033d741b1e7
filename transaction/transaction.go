// Package transaction provides the open/mutate/save/publish/close
// lifecycle shared by every repository kind (rpm, deb), generalized
// from RepositoryBase: a storage session and an optional GPG session
// are acquired together, mutations accumulate a set of changed paths
// for CDN invalidation, and closing flushes the index, invalidates the
// CDN, and optionally wipes the signing key back out of GPG.
package transaction

import (
	"context"
	"sync"

	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/storage"
)

// Repository is the contract every package-format repository
// implements on top of Base: add a package (rejecting duplicates),
// remove one by filename, and close the transaction. Resolving the
// storage URL for an uploaded filename is done by the package-level
// FindRepository functions, not by this interface.
type Repository interface {
	// Add ingests the package file at path (a storage key, fetched into
	// the scratch directory) into the repository, unless a package with
	// the same identity is already present, in which case it returns
	// *repoerr.PackageAlreadyExists.
	Add(ctx context.Context, path string, removeSource bool) (string, error)
	// Remove deletes filename from the repository. Whether an absent
	// package is an error depends on the implementation: the deb
	// repository returns *repoerr.PackageNotFound.
	Remove(ctx context.Context, filename string) error
	// Close flushes pending index changes, invalidates the CDN for any
	// changed paths, and releases the storage/GPG sessions.
	Close(ctx context.Context) error
}

// Loader loads a repository's current index state from storage, e.g.
// reading and parsing repomd.xml or Release.
type Loader func(ctx context.Context) error

// Saver persists accumulated index changes to storage, e.g. writing
// primary.xml.gz and repomd.xml, or Packages and Release.
type Saver func(ctx context.Context) error

// Base is held by concrete repository types to get the shared
// lifecycle and change-tracking machinery RepositoryBase provided.
type Base struct {
	// Storage is the open storage session for this transaction.
	Storage storage.Driver
	// GPG is the signing session for this transaction. Its zero value
	// (no private key configured) makes every signing call a no-op.
	GPG *gpgsession.Session

	// URL is the repository's storage URL, as resolved by find_repository.
	URL string

	// ClearKeyOnClose deletes the GPG key from the agent/keyring once
	// the transaction closes, matching gpg_clear=True.
	ClearKeyOnClose bool

	mu           sync.Mutex
	changedPaths []string

	save Saver
}

// Open acquires the storage and GPG sessions for url, running the
// repository's own Loader concurrently with GPG key import exactly as
// __aenter__ gathered _gpg_init() and _load().
func Open(ctx context.Context, url string, open storage.Opener, gpg *gpgsession.Session,
	load Loader, save Saver, clearKeyOnClose bool) (*Base, error) {

	driver, err := open(ctx, url)
	if err != nil {
		return nil, err
	}
	gpg.Bind(driver.Path())

	var gpgErr, loadErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, gpgErr = gpg.Init(ctx, driver.Path())
	}()
	go func() {
		defer wg.Done()
		loadErr = load(ctx)
	}()
	wg.Wait()

	if gpgErr != nil {
		_ = driver.Close()
		return nil, gpgErr
	}
	if loadErr != nil {
		_ = driver.Close()
		return nil, loadErr
	}

	return &Base{
		Storage:         driver,
		GPG:             gpg,
		URL:             url,
		ClearKeyOnClose: clearKeyOnClose,
		save:            save,
	}, nil
}

// MarkChanged records path as having changed in this transaction, so
// it is included in the CDN invalidation batch on Close.
func (b *Base) MarkChanged(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changedPaths = append(b.changedPaths, path)
}

// MarkForDeletion removes path from storage and records it as changed
// for cache invalidation, the combined effect rpm.py's
// _mark_for_deletion has on a repository's outdated metadata/package
// files (the helper itself was not present in the recovered source,
// so this is inferred from its call sites: every argument passed to
// it is a path that must both disappear from storage and be purged
// from any fronting CDN).
func (b *Base) MarkForDeletion(ctx context.Context, path string) error {
	if err := b.Storage.Remove(ctx, path, false); err != nil {
		return err
	}
	b.MarkChanged(path)
	return nil
}

// ChangedPaths returns a copy of the paths marked changed so far.
func (b *Base) ChangedPaths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.changedPaths))
	copy(out, b.changedPaths)
	return out
}

// Close runs Saver, invalidates the CDN for every changed path, clears
// the GPG key if configured to, and releases the storage session. It
// mirrors __aexit__'s save-then-invalidate-then-clear-then-close order.
func (b *Base) Close(ctx context.Context) error {
	if err := b.save(ctx); err != nil {
		return err
	}

	changed := b.ChangedPaths()
	if len(changed) > 0 {
		if err := b.Storage.InvalidateCache(ctx, changed); err != nil {
			return err
		}
	}

	if b.GPG.Enabled() && b.ClearKeyOnClose {
		if err := b.GPG.ClearKey(ctx); err != nil {
			return err
		}
	}

	return b.Storage.Close()
}

// Job is one unit of concurrent work submitted to Parallel.
type Job func(ctx context.Context) error

// Parallel runs jobs with at most max concurrently active at once,
// using a buffered-channel semaphore in the same style as the
// teacher's downloader pool, rather than an external errgroup
// dependency. It returns the first error encountered, if any, after
// every job has finished.
func Parallel(ctx context.Context, max int, jobs []Job) error {
	if max <= 0 {
		max = 1
	}
	sem := make(chan struct{}, max)
	errCh := make(chan error, len(jobs))
	var wg sync.WaitGroup

	for _, job := range jobs {
		job := job
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errCh <- job(ctx)
		}()
	}

	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
