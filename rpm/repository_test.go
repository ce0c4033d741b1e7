package rpm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/repoerr"
	"github.com/repoup/repoup/storage"
	"github.com/repoup/repoup/storage/memstorage"
)

// openerFor always hands back the same in-memory driver, so successive
// Open calls in a test see the same bucket a real S3 URL would.
func openerFor(drv *memstorage.Driver) storage.Opener {
	return func(ctx context.Context, url string) (storage.Driver, error) {
		return drv, nil
	}
}

// TestOpenCloseEmptyRepository is the literal "RPM initialise empty"
// scenario from spec §8: an empty bucket, a transaction with no
// mutations, closed. repodata/repomd.xml must exist and be among the
// modified paths.
func TestOpenCloseEmptyRepository(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("8/noarch")
	require.NoError(t, err)

	repo, err := Open(ctx, "mem://bucket/8/noarch", openerFor(drv), gpgsession.New("", "", false), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, repo.Close(ctx))

	_, ok := drv.Get("8/noarch/repodata/repomd.xml")
	assert.True(t, ok, "repodata/repomd.xml must exist after closing an empty transaction")

	changed := repo.base.ChangedPaths()
	assert.Contains(t, changed, "repodata/repomd.xml")
}

// TestReopenWithoutMutationsUploadsNothing covers property 7: a
// transaction with no add/remove, run against a bucket already
// holding a previous transaction's output, produces no new puts and
// no deletes, since every metadata filename embeds its own content
// hash and nothing changed.
func TestReopenWithoutMutationsUploadsNothing(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("8/noarch")
	require.NoError(t, err)
	opener := openerFor(drv)

	first, err := Open(ctx, "mem://bucket/8/noarch", opener, gpgsession.New("", "", false), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	keysAfterFirst := drv.Keys()

	second, err := Open(ctx, "mem://bucket/8/noarch", opener, gpgsession.New("", "", false), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))

	assert.Empty(t, second.base.ChangedPaths(), "an unchanged reopen must mark nothing as modified")
	assert.ElementsMatch(t, keysAfterFirst, drv.Keys(), "bucket contents must be unchanged")
}

// TestAddDuplicatePackage covers property 2: adding a package whose
// NVRA is already indexed fails with PackageAlreadyExists, and any
// stray source copy outside the repository is still cleaned up, per
// §4.5 step 1 and §7's "Fatal to this add" / stray-copy-removed
// behaviour.
func TestAddDuplicatePackage(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("8/noarch")
	require.NoError(t, err)

	repo, err := Open(ctx, "mem://bucket/8/noarch", openerFor(drv), gpgsession.New("", "", false), DefaultConfig())
	require.NoError(t, err)

	const filename = "centos-stream-release-8.6-1.el8.noarch.rpm"
	repo.pkgs["primary"][strings.TrimSuffix(filename, ".rpm")] = &Package{NVRA: strings.TrimSuffix(filename, ".rpm")}

	strayPath := "tests/data/" + filename
	drv.Put(strayPath, []byte("stray copy"))

	_, err = repo.Add(ctx, strayPath, true)
	require.Error(t, err)
	assert.IsType(t, &repoerr.PackageAlreadyExists{}, err)

	_, stillThere := drv.Get(strayPath)
	assert.False(t, stillThere, "the stray source copy must be removed even though add failed")

	require.NoError(t, repo.Close(ctx))
}

// TestRemoveDropsFromEveryIndexAndSchedulesDeletion covers property 3
// (minus the download/parse round trip, which no test here exercises:
// the package is seeded straight into the record tables): Remove must
// clear every record table under the package's NVRA key and delete its
// pool file.
func TestRemoveDropsFromEveryIndexAndSchedulesDeletion(t *testing.T) {
	ctx := context.Background()
	drv, err := memstorage.New("8/noarch")
	require.NoError(t, err)

	repo, err := Open(ctx, "mem://bucket/8/noarch", openerFor(drv), gpgsession.New("", "", false), DefaultConfig())
	require.NoError(t, err)

	const filename = "hello-1.0.0-1.el8.noarch.rpm"
	const nvra = "hello-1.0.0-1.el8.noarch"
	for _, table := range repo.pkgs {
		table[nvra] = &Package{NVRA: nvra}
	}
	drv.Put("8/noarch/"+filename, []byte("rpm bytes"))

	require.NoError(t, repo.Remove(ctx, filename))

	for recordType, table := range repo.pkgs {
		_, ok := table[nvra]
		assert.False(t, ok, "%s table must no longer carry %s", recordType, nvra)
	}
	_, stillThere := drv.Get("8/noarch/" + filename)
	assert.False(t, stillThere, "the removed package's pool object must be deleted")
	assert.Contains(t, repo.base.ChangedPaths(), filename)

	require.NoError(t, repo.Close(ctx))
}
