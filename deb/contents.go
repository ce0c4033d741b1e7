package deb

import "sort"

// contentsEntry is one line of a "Contents-<arch>" index: a path and
// every "<component>/<package>" owner shipping it.
type contentsEntry struct {
	path   string
	owners []string
}

// updateContentsEntries adds or removes owner's ownership of files in
// contents (kept sorted by path throughout), reporting whether
// anything changed. A nil/empty files removes owner from every entry
// it appears in, deleting entries left with no owners -- the same
// contract _update_contents_entries exposes for add (non-empty files)
// and remove (empty files).
func updateContentsEntries(owner string, files []string, contents []contentsEntry) ([]contentsEntry, bool) {
	if len(files) == 0 {
		return removeOwner(owner, contents)
	}
	return addOwner(owner, files, contents)
}

func addOwner(owner string, files []string, contents []contentsEntry) ([]contentsEntry, bool) {
	changed := false
	for _, file := range files {
		idx := sort.Search(len(contents), func(i int) bool { return contents[i].path >= file })
		if idx < len(contents) && contents[idx].path == file {
			if !containsString(contents[idx].owners, owner) {
				contents[idx].owners = append(contents[idx].owners, owner)
				changed = true
			}
			continue
		}
		entry := contentsEntry{path: file, owners: []string{owner}}
		contents = append(contents, contentsEntry{})
		copy(contents[idx+1:], contents[idx:])
		contents[idx] = entry
		changed = true
	}
	return contents, changed
}

func removeOwner(owner string, contents []contentsEntry) ([]contentsEntry, bool) {
	changed := false
	result := contents[:0]
	for _, entry := range contents {
		owners := entry.owners[:0]
		for _, o := range entry.owners {
			if o == owner {
				changed = true
				continue
			}
			owners = append(owners, o)
		}
		entry.owners = owners
		if len(entry.owners) > 0 {
			result = append(result, entry)
		}
	}
	return result, changed
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
