// Package memstorage is an in-process storage.Driver double, playing
// the role of the original's StorageHelper test fixture: a plain map
// guarded by a mutex, with the same scratch-directory and path-join
// semantics as the real S3 driver so transaction/rpm/deb tests never
// need network access or credentials.
package memstorage

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/repoup/repoup/repoerr"
)

// Driver is an in-memory storage.Driver.
type Driver struct {
	prefix string

	mu      sync.Mutex
	objects map[string][]byte

	scratchDir string
}

// New creates an empty Driver. prefix mirrors an S3 bucket prefix.
func New(prefix string) (*Driver, error) {
	scratchDir, err := os.MkdirTemp("", "repoup-mem-")
	if err != nil {
		return nil, err
	}
	return &Driver{
		prefix:     prefix,
		objects:    make(map[string][]byte),
		scratchDir: scratchDir,
	}, nil
}

// Path implements storage.Driver.
func (d *Driver) Path() string { return d.scratchDir }

// Join implements storage.Driver.
func (d *Driver) Join(parts []string, absolute bool) string {
	if absolute {
		return path.Join(parts...)
	}
	return path.Join(append([]string{d.prefix}, parts...)...)
}

// TmpJoin implements storage.Driver.
func (d *Driver) TmpJoin(parts ...string) string {
	return filepath.Join(append([]string{d.scratchDir}, parts...)...)
}

// PutObject implements storage.Driver.
func (d *Driver) PutObject(ctx context.Context, p string, body []byte, absolute bool) error {
	key := d.Join([]string{p}, absolute)
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	d.objects[key] = cp
	return nil
}

// GetObject implements storage.Driver.
func (d *Driver) GetObject(ctx context.Context, p string, absolute bool) ([]byte, error) {
	key := d.Join([]string{p}, absolute)
	d.mu.Lock()
	defer d.mu.Unlock()
	body, ok := d.objects[key]
	if !ok {
		return nil, &repoerr.PackageNotFound{Key: key}
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	return cp, nil
}

// PutFile implements storage.Driver.
func (d *Driver) PutFile(ctx context.Context, relpath string, absolute bool) error {
	body, err := os.ReadFile(d.TmpJoin(relpath))
	if err != nil {
		return err
	}
	return d.PutObject(ctx, relpath, body, absolute)
}

// GetFile implements storage.Driver.
func (d *Driver) GetFile(ctx context.Context, p, dst string, absolute bool) error {
	if dst == "" {
		dst = p
	}
	body, err := d.GetObject(ctx, p, absolute)
	if err != nil {
		return err
	}
	dstPath := d.TmpJoin(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dstPath, body, 0o644)
}

// Remove implements storage.Driver.
func (d *Driver) Remove(ctx context.Context, p string, absolute bool) error {
	key := d.Join([]string{p}, absolute)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, key)
	return nil
}

// Exists implements storage.Driver.
func (d *Driver) Exists(ctx context.Context, p string, absolute bool) (bool, error) {
	key := d.Join([]string{p}, absolute)
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[key]
	return ok, nil
}

// RemoveTmp implements storage.Driver.
func (d *Driver) RemoveTmp(relpath string) error {
	err := os.Remove(d.TmpJoin(relpath))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// InvalidateCache implements storage.Driver as a no-op; no CDN fixture
// is part of this double.
func (d *Driver) InvalidateCache(ctx context.Context, paths []string) error {
	return nil
}

// Close implements storage.Driver.
func (d *Driver) Close() error {
	return os.RemoveAll(d.scratchDir)
}

// Keys returns every object key currently stored, for test assertions.
func (d *Driver) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.objects))
	for k := range d.objects {
		keys = append(keys, k)
	}
	return keys
}

// Get returns the raw bytes stored at key (absolute, no prefix
// joining), for test assertions that already have a full key.
func (d *Driver) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body, ok := d.objects[key]
	return body, ok
}

// Put stores body at key (absolute, no prefix joining), letting tests
// seed a repository's initial state.
func (d *Driver) Put(key string, body []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	d.objects[key] = cp
}

// Clear empties the store, mirroring StorageHelper.clear.
func (d *Driver) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = make(map[string][]byte)
}
