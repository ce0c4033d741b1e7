package deb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/repoerr"
	"github.com/repoup/repoup/storage"
	"github.com/repoup/repoup/storage/memstorage"
)

// The ".deb" format is a plain "ar" container of three members
// (debian-binary, control.tar.*, data.tar.*); these helpers build one
// by hand, byte for byte, so Add can be exercised end to end without
// shelling out to dpkg-deb.

func arPad(s string, width int) string {
	if len(s) > width {
		s = s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func writeArMember(buf *bytes.Buffer, name string, data []byte) {
	buf.WriteString(arPad(name+"/", 16))
	buf.WriteString(arPad("0", 12)) // mtime
	buf.WriteString(arPad("0", 6))  // uid
	buf.WriteString(arPad("0", 6))  // gid
	buf.WriteString(arPad("644", 8))
	buf.WriteString(arPad(strconv.Itoa(len(data)), 10))
	buf.WriteByte(0x60)
	buf.WriteByte(0x0A)
	buf.Write(data)
	if len(data)%2 != 0 {
		buf.WriteByte('\n')
	}
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// buildDeb assembles a minimal but structurally real ".deb": an ar
// archive of debian-binary, control.tar.gz (one "control" member) and
// data.tar.gz (one member per path in files).
func buildDeb(t *testing.T, control string, files map[string]string) []byte {
	t.Helper()
	controlTarGz := buildTarGz(t, map[string]string{"control": control})
	dataTarGz := buildTarGz(t, files)

	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	writeArMember(&buf, "debian-binary", []byte("2.0\n"))
	writeArMember(&buf, "control.tar.gz", controlTarGz)
	writeArMember(&buf, "data.tar.gz", dataTarGz)
	return buf.Bytes()
}

func helloControl() string {
	return "Package: hello\n" +
		"Version: 1.0-1\n" +
		"Architecture: amd64\n" +
		"Maintainer: Test Packager <test@example.com>\n" +
		"Installed-Size: 12\n" +
		"Description: a short test tool\n"
}

func openerFor(drv *memstorage.Driver) storage.Opener {
	return func(ctx context.Context, url string) (storage.Driver, error) {
		return drv, nil
	}
}

func testResolvedConfig() ResolvedConfig {
	return ResolvedConfig{
		URL: "mem://bucket/repo", Suite: "stable", Codename: "bookworm",
		Component: "main", Architecture: "amd64",
	}
}

// TestAddPublishesPoolFileAndIndices exercises §4.6's Add end to end:
// pool placement, Packages/Contents/Release regeneration, and the
// per-algorithm by-hash fan-out (property 1 and the "DEB add two
// arches" scenario, restricted to one architecture for a single test).
func TestAddPublishesPoolFileAndIndices(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("")
	require.NoError(t, err)

	repo, err := Open(ctx, testResolvedConfig(), openerFor(drv), gpgsession.New("", "", false))
	require.NoError(t, err)

	debBytes := buildDeb(t, helloControl(), map[string]string{
		"usr/bin/hello":               "",
		"usr/share/doc/hello/changelog": "",
	})
	const filename = "hello_1.0-1_amd64.deb"
	drv.Put(filename, debBytes)

	dst, err := repo.Add(ctx, filename, true)
	require.NoError(t, err)
	assert.Equal(t, "pool/main/h/hello/hello_1.0-1_amd64.deb", dst)

	_, stillAtRoot := drv.Get(filename)
	assert.False(t, stillAtRoot, "the source object must be removed after a successful add")

	poolData, ok := drv.Get(dst)
	require.True(t, ok, "the pool object must exist at its resolved destination")
	assert.Equal(t, debBytes, poolData)

	require.NoError(t, repo.Close(ctx))

	packagesData, ok := drv.Get("dists/bookworm/main/binary-amd64/Packages")
	require.True(t, ok)
	assert.Contains(t, string(packagesData), "Package: hello")
	assert.Contains(t, string(packagesData), "Filename: pool/main/h/hello/hello_1.0-1_amd64.deb")

	_, ok = drv.Get("dists/bookworm/main/binary-amd64/Packages.gz")
	assert.True(t, ok)
	_, ok = drv.Get("dists/bookworm/main/binary-amd64/Packages.xz")
	assert.True(t, ok)

	plainContents, ok := drv.Get("dists/bookworm/main/Contents-amd64")
	require.True(t, ok, "the plain (uncompressed) Contents file must exist alongside the .gz one")
	assert.Contains(t, string(plainContents), "hello")

	gzContentsData, ok := drv.Get("dists/bookworm/main/Contents-amd64.gz")
	require.True(t, ok)
	assert.NotEmpty(t, gzContentsData)

	releaseData, ok := drv.Get("dists/bookworm/Release")
	require.True(t, ok)
	release := string(releaseData)
	assert.Contains(t, release, "Suite: stable")
	assert.Contains(t, release, "Codename: bookworm")
	assert.Contains(t, release, "Components: main")
	assert.Contains(t, release, "Architectures: amd64")
	assert.Contains(t, release, "Acquire-By-Hash: yes")

	inRelease, ok := drv.Get("dists/bookworm/InRelease")
	require.True(t, ok)
	assert.Equal(t, releaseData, inRelease, "InRelease must equal Release byte for byte when unsigned")

	for _, algo := range []string{"MD5Sum", "SHA1", "SHA256"} {
		assert.Contains(t, release, algo+":")
	}

	// Every MD5Sum/SHA1/SHA256 entry in Release must resolve to a
	// by-hash object equal to the plain object it describes.
	md5Sum := md5.Sum(packagesData)
	byHashMD5, ok := drv.Get("dists/bookworm/main/binary-amd64/by-hash/MD5Sum/" + hex.EncodeToString(md5Sum[:]))
	require.True(t, ok, "by-hash/MD5Sum object for Packages must exist")
	assert.Equal(t, packagesData, byHashMD5)

	sha1Sum := sha1.Sum(packagesData)
	byHashSHA1, ok := drv.Get("dists/bookworm/main/binary-amd64/by-hash/SHA1/" + hex.EncodeToString(sha1Sum[:]))
	require.True(t, ok, "by-hash/SHA1 object for Packages must exist")
	assert.Equal(t, packagesData, byHashSHA1)

	sha256Sum := sha256.Sum256(packagesData)
	byHashSHA256, ok := drv.Get("dists/bookworm/main/binary-amd64/by-hash/SHA256/" + hex.EncodeToString(sha256Sum[:]))
	require.True(t, ok, "by-hash/SHA256 object for Packages must exist")
	assert.Equal(t, packagesData, byHashSHA256)
}

// TestAddDuplicatePackage covers property 2: adding the same package
// twice fails with PackageAlreadyExists and the bucket is unaffected
// by the second call.
func TestAddDuplicatePackage(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("")
	require.NoError(t, err)

	repo, err := Open(ctx, testResolvedConfig(), openerFor(drv), gpgsession.New("", "", false))
	require.NoError(t, err)

	debBytes := buildDeb(t, helloControl(), map[string]string{"usr/bin/hello": ""})
	const filename = "hello_1.0-1_amd64.deb"
	drv.Put(filename, debBytes)

	_, err = repo.Add(ctx, filename, true)
	require.NoError(t, err)

	drv.Put(filename, debBytes)
	_, err = repo.Add(ctx, filename, true)
	require.Error(t, err)
	assert.IsType(t, &repoerr.PackageAlreadyExists{}, err)

	require.NoError(t, repo.Close(ctx))
}

// TestAddThenRemove covers property 3: after add then remove of the
// same package, neither the pool file nor any Contents/Packages entry
// referencing it survives a close.
func TestAddThenRemove(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("")
	require.NoError(t, err)

	repo, err := Open(ctx, testResolvedConfig(), openerFor(drv), gpgsession.New("", "", false))
	require.NoError(t, err)

	debBytes := buildDeb(t, helloControl(), map[string]string{"usr/bin/hello": ""})
	const filename = "hello_1.0-1_amd64.deb"
	drv.Put(filename, debBytes)

	dst, err := repo.Add(ctx, filename, true)
	require.NoError(t, err)

	require.NoError(t, repo.Remove(ctx, filename))
	_, stillInPool := drv.Get(dst)
	assert.False(t, stillInPool)

	require.NoError(t, repo.Close(ctx))

	packagesData, ok := drv.Get("dists/bookworm/main/binary-amd64/Packages")
	require.True(t, ok)
	assert.NotContains(t, string(packagesData), "hello")

	plainContents, ok := drv.Get("dists/bookworm/main/Contents-amd64")
	require.True(t, ok)
	assert.NotContains(t, string(plainContents), "hello")

	contentsData, ok := drv.Get("dists/bookworm/main/Contents-amd64.gz")
	require.True(t, ok)
	assert.NotEmpty(t, contentsData) // still a valid (empty-ish) gzip stream
}

// TestReopenWithoutMutationsSkipsUnchangedIndices covers property 7:
// re-running a transaction that adds nothing new must not re-publish
// an index file whose content digest hasn't changed, even though
// Release/InRelease are always re-signed (their Date field changes).
func TestReopenWithoutMutationsSkipsUnchangedIndices(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("")
	require.NoError(t, err)
	opener := openerFor(drv)

	debBytes := buildDeb(t, helloControl(), map[string]string{"usr/bin/hello": ""})
	const filename = "hello_1.0-1_amd64.deb"
	drv.Put(filename, debBytes)

	first, err := Open(ctx, testResolvedConfig(), opener, gpgsession.New("", "", false))
	require.NoError(t, err)
	_, err = first.Add(ctx, filename, true)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	packagesBefore, ok := drv.Get("dists/bookworm/main/binary-amd64/Packages")
	require.True(t, ok)
	contentsBefore, ok := drv.Get("dists/bookworm/main/Contents-amd64")
	require.True(t, ok)

	second, err := Open(ctx, testResolvedConfig(), opener, gpgsession.New("", "", false))
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))

	changed := second.base.ChangedPaths()
	assert.NotContains(t, changed, "dists/bookworm/main/binary-amd64/Packages", "an unchanged Packages file must not be re-marked")
	assert.NotContains(t, changed, "dists/bookworm/main/Contents-amd64", "an unchanged Contents file must not be re-marked")

	packagesAfter, ok := drv.Get("dists/bookworm/main/binary-amd64/Packages")
	require.True(t, ok)
	assert.Equal(t, packagesBefore, packagesAfter)

	contentsAfter, ok := drv.Get("dists/bookworm/main/Contents-amd64")
	require.True(t, ok)
	assert.Equal(t, contentsBefore, contentsAfter)
}

// TestAddSigned covers the "DEB sign" scenario: when GPG is
// configured, InRelease is a cleartext-signed document and
// Release.gpg exists as a detached signature.
func TestAddSigned(t *testing.T) {
	t.Skip("requires a real gpg binary on PATH; exercised in integration, not unit, testing")

	ctx := context.Background()
	drv, err := memstorage.New("")
	require.NoError(t, err)

	gpg := gpgsession.New("testdata/key.asc", "", false)
	repo, err := Open(ctx, testResolvedConfig(), openerFor(drv), gpg)
	require.NoError(t, err)
	require.NoError(t, repo.Close(ctx))

	inRelease, ok := drv.Get("dists/bookworm/InRelease")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(inRelease), "-----BEGIN PGP SIGNED MESSAGE-----"))

	_, ok = drv.Get("dists/bookworm/Release.gpg")
	assert.True(t, ok)
}
