// Package deb implements a Debian "dists/" archive repository as a
// transaction.Repository, generalizing the teacher's read-only
// archive/downloader model (archive.go, pool.go, release.go,
// packages.go, untangle.go) into a read-write repository that adds
// and removes binary packages, one architecture and component at a
// time, and republishes Packages/Contents/Release/InRelease/by-hash.
package deb

import "path"

// poolPath renders "pool/<component>/<prefix>/<name>/<filename>", the
// same layout pool.go's poolPrefix produces, generalized with the
// four-letter "libX" prefix Debian's pool layout special-cases so
// "libpam-chroot" sorts under "libp" rather than flooding the "l"
// directory.
func poolPath(component, name, filename string) string {
	return path.Join("pool", component, poolPrefix(name), name, filename)
}

func poolPrefix(name string) string {
	if len(name) >= 4 && name[:3] == "lib" {
		return name[:4]
	}
	if len(name) == 0 {
		return name
	}
	return name[:1]
}
