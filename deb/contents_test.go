package deb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateContentsEntries_AddNewOwner(t *testing.T) {
	contents, changed := updateContentsEntries("main/hello", []string{"usr/bin/hello"}, nil)
	assert := assert.New(t)
	assert.True(changed)
	if assert.Len(contents, 1) {
		assert.Equal("usr/bin/hello", contents[0].path)
		assert.Equal([]string{"main/hello"}, contents[0].owners)
	}
}

func TestUpdateContentsEntries_ProvidedByMultiplePackages(t *testing.T) {
	contents, changed := updateContentsEntries("main/hello", []string{"usr/share/doc/common"}, nil)
	assert.True(t, changed)

	contents, changed = updateContentsEntries("main/world", []string{"usr/share/doc/common"}, contents)
	assert.True(t, changed)

	assert := assert.New(t)
	if assert.Len(contents, 1) {
		assert.ElementsMatch([]string{"main/hello", "main/world"}, contents[0].owners)
	}

	contents, changed = updateContentsEntries("main/hello", nil, contents)
	assert.True(changed)
	if assert.Len(contents, 1) {
		assert.Equal([]string{"main/world"}, contents[0].owners)
	}

	contents, changed = updateContentsEntries("main/world", nil, contents)
	assert.True(changed)
	assert.Len(contents, 0)
}

func TestUpdateContentsEntries_RemoveAbsentOwnerIsNoop(t *testing.T) {
	contents, _ := updateContentsEntries("main/hello", []string{"usr/bin/hello"}, nil)
	contents, changed := updateContentsEntries("main/other", nil, contents)
	assert.False(t, changed)
	assert.Len(t, contents, 1)
}

func TestUpdateContentsEntries_StaysSorted(t *testing.T) {
	contents, _ := updateContentsEntries("main/hello", []string{"usr/bin/b", "usr/bin/a"}, nil)
	require := assert.New(t)
	if require.Len(contents, 2) {
		require.Equal("usr/bin/a", contents[0].path)
		require.Equal("usr/bin/b", contents[1].path)
	}
}
