package rpm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoup/repoup/repoerr"
)

func TestParseNEVRA(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		ok       bool
		want     nevra
	}{
		{
			name:     "simple NVRA",
			filename: "my_package-1.0.0-1.el8.noarch.rpm",
			ok:       true,
			want:     nevra{Name: "my_package", Version: "1.0.0", Release: "1.el8", Arch: "noarch"},
		},
		{
			name:     "with epoch",
			filename: "my_package-2:1.0.0-1.el8.x86_64.rpm",
			ok:       true,
			want:     nevra{Name: "my_package", Epoch: "2", Version: "1.0.0", Release: "1.el8", Arch: "x86_64"},
		},
		{
			name:     "with leading path",
			filename: "/tmp/scratch/my_package-1.0.0-1.el8.noarch.rpm",
			ok:       true,
			want:     nevra{Name: "my_package", Version: "1.0.0", Release: "1.el8", Arch: "noarch"},
		},
		{
			name:     "not an rpm",
			filename: "my_package-1.0.0-1.el8.noarch.tar.gz",
			ok:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseNEVRA(tt.filename)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNevraNVRAandNEVRA(t *testing.T) {
	n := nevra{Name: "hello", Version: "1.0", Release: "1.el8", Arch: "x86_64"}
	assert.Equal(t, "hello-1.0-1.el8.x86_64", n.NVRA())
	assert.Equal(t, "hello-1.0-1.el8.x86_64", n.NEVRA())

	n.Epoch = "3"
	assert.Equal(t, "hello-3:1.0-1.el8.x86_64", n.NEVRA())
}

func TestFindRepository(t *testing.T) {
	url, err := FindRepository(
		"s3://bucket/rpm/$releasever/$basearch",
		"hello-1.0.0-1.el8.x86_64.rpm",
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/rpm/8/x86_64", url)
}

func TestFindRepository_NoReleasever(t *testing.T) {
	url, err := FindRepository(
		"s3://bucket/rpm/$basearch",
		"hello-1.0.0-1.noarch.rpm",
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/rpm/noarch", url)
}

func TestFindRepository_MissingBaseURL(t *testing.T) {
	_, err := FindRepository("", "hello-1.0.0-1.el8.x86_64.rpm", nil)
	require.Error(t, err)
	assert.IsType(t, &repoerr.ConfigurationError{}, err)
}

func TestFindRepository_InvalidFilename(t *testing.T) {
	_, err := FindRepository("s3://bucket/rpm/$basearch", "not-an-rpm.txt", nil)
	require.Error(t, err)
	assert.IsType(t, &repoerr.InvalidPackage{}, err)
}

func TestFindRepository_MissingDistTag(t *testing.T) {
	_, err := FindRepository("s3://bucket/rpm/$releasever/$basearch", "hello-1.0.0-1.x86_64.rpm", nil)
	require.Error(t, err)
	assert.IsType(t, &repoerr.InvalidPackage{}, err)
}
