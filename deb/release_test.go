package deb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pault.ag/go/debian/control"
)

func TestReleaseAddHashAndRemoveFile(t *testing.T) {
	r := &Release{}

	require.NoError(t, r.AddHash(control.FileHash{Filename: "main/binary-amd64/Packages", Algorithm: "sha256", Hash: "deadbeef", Size: 42}))
	require.NoError(t, r.AddHash(control.FileHash{Filename: "main/binary-amd64/Packages.gz", Algorithm: "sha256", Hash: "cafef00d", Size: 10}))

	assert.Len(t, r.SHA256, 2)

	r.removeFile("main/binary-amd64/Packages")
	require.Len(t, r.SHA256, 1)
	assert.Equal(t, "main/binary-amd64/Packages.gz", r.SHA256[0].Filename)
}

func TestReleaseAddHash_UnknownAlgorithm(t *testing.T) {
	r := &Release{}
	err := r.AddHash(control.FileHash{Filename: "x", Algorithm: "crc32", Hash: "x"})
	assert.Error(t, err)
}

func TestAddComponentAndArchitecture(t *testing.T) {
	r := &Release{}
	r.addComponent("main")
	r.addComponent("contrib")
	r.addComponent("main")
	assert.Equal(t, []string{"contrib", "main"}, r.Components)

	r.addArchitecture("amd64")
	r.addArchitecture("arm64")
	r.addArchitecture("amd64")
	assert.Equal(t, []string{"amd64", "arm64"}, r.Architectures)
}

func TestByHashPathAndEntries(t *testing.T) {
	assert.Equal(t, "main/binary-amd64/by-hash/SHA256/deadbeef",
		byHashPath("main/binary-amd64", "SHA256", "deadbeef"))

	r := &Release{}
	require.NoError(t, r.AddHash(control.FileHash{
		Filename: "main/binary-amd64/Packages", Algorithm: "sha256", Hash: "deadbeef",
	}))

	entries := r.byHashEntries("dists/bookworm")
	hashPath := "dists/bookworm/main/binary-amd64/by-hash/SHA256/deadbeef"
	require.Contains(t, entries, hashPath)
	assert.Equal(t, "dists/bookworm/main/binary-amd64/Packages", entries[hashPath])
}

func TestIndexRelpath(t *testing.T) {
	assert.Equal(t, "main/binary-amd64/Packages", indexRelpath("main", "amd64", "Packages"))
	assert.Equal(t, "main/Release", indexRelpath("main", "", "Release"))
}

func TestContentsRelpath(t *testing.T) {
	assert.Equal(t, "main/Contents-amd64", contentsRelpath("main", "amd64"))
}

func TestMarshalRelease(t *testing.T) {
	r := &Release{Codename: "bookworm", Components: []string{"main"}, Architectures: []string{"amd64"}}
	b, err := marshalRelease(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Codename: bookworm")
}
