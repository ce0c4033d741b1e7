package deb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pault.ag/go/debian/control"

	"github.com/repoup/repoup/repoerr"
)

func TestParsePkgName(t *testing.T) {
	parsed, err := parsePkgName("hello_1.0-1_amd64.deb")
	require.NoError(t, err)
	assert.Equal(t, parsedName{Name: "hello", Version: "1.0-1", Arch: "amd64"}, parsed)
}

func TestParsePkgName_Invalid(t *testing.T) {
	_, err := parsePkgName("hello-1.0-1-amd64.deb")
	require.Error(t, err)
	assert.IsType(t, &repoerr.InvalidPackage{}, err)
}

func TestCheckPkg(t *testing.T) {
	parsed := parsedName{Name: "hello", Version: "1.0-1", Arch: "amd64"}
	ctrl := control.Paragraph{Values: map[string]string{
		"Package": "hello", "Version": "1.0-1", "Architecture": "amd64",
	}}
	assert.NoError(t, checkPkg(parsed, ctrl, "hello_1.0-1_amd64.deb"))
}

func TestCheckPkg_Mismatch(t *testing.T) {
	parsed := parsedName{Name: "hello", Version: "1.0-1", Arch: "amd64"}
	ctrl := control.Paragraph{Values: map[string]string{
		"Package": "hello-other", "Version": "1.0-1", "Architecture": "amd64",
	}}
	err := checkPkg(parsed, ctrl, "hello_1.0-1_amd64.deb")
	require.Error(t, err)
	assert.IsType(t, &repoerr.InvalidPackage{}, err)
}

func TestHashDescription(t *testing.T) {
	values := map[string]string{"Description": "a short summary"}
	hashDescription(values)
	assert.NotEmpty(t, values["Description-md5"])
	assert.Len(t, values["Description-md5"], 32)
}

func TestHashDescription_NoDescription(t *testing.T) {
	values := map[string]string{}
	hashDescription(values)
	_, ok := values["Description-md5"]
	assert.False(t, ok)
}

func TestDetectCodename(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
		wantErr bool
	}{
		{name: "tilde suffix", version: "1.0-1~bookworm", want: "bookworm"},
		{name: "plus suffix", version: "1.0-1+jammy", want: "jammy"},
		{name: "no revision", version: "1.0", wantErr: true},
		{name: "revision has no codename", version: "1.0-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := detectCodename(tt.version, "hello_"+tt.version+"_amd64.deb")
			if tt.wantErr {
				require.Error(t, err)
				assert.IsType(t, &repoerr.InvalidPackage{}, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindRepository(t *testing.T) {
	cfg := Config{
		URL:       "s3://bucket/debian",
		Suite:     "",
		Codename:  "bookworm",
		Component: "main",
	}
	rcfg, err := FindRepository(cfg, "hello_1.0-1_amd64.deb", nil)
	require.NoError(t, err)
	assert.Equal(t, ResolvedConfig{
		URL: "s3://bucket/debian", Suite: "bookworm", Codename: "bookworm",
		Component: "main", Architecture: "amd64",
	}, rcfg)
}

func TestFindRepository_AutoDetectCodename(t *testing.T) {
	cfg := Config{URL: "s3://bucket/debian/$dist", Component: "main"}
	rcfg, err := FindRepository(cfg, "hello_1.0-1~bookworm_amd64.deb", nil)
	require.NoError(t, err)
	assert.Equal(t, "bookworm", rcfg.Codename)
	assert.Equal(t, "s3://bucket/debian/bookworm", rcfg.URL)
}

func TestFindRepository_MissingURL(t *testing.T) {
	_, err := FindRepository(Config{Codename: "bookworm"}, "hello_1.0-1_amd64.deb", nil)
	require.Error(t, err)
	assert.IsType(t, &repoerr.ConfigurationError{}, err)
}

func TestFindRepository_MissingSuiteAndCodename(t *testing.T) {
	_, err := FindRepository(Config{URL: "s3://bucket/debian"}, "hello_1.0-1_amd64.deb", nil)
	require.Error(t, err)
	assert.IsType(t, &repoerr.ConfigurationError{}, err)
}
