package rpm

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// writeSQLite renders one of primary.sqlite/filelists.sqlite/other.sqlite
// at path using modernc.org/sqlite, the pure-Go cgo-free driver that
// lets this binary stay cross-compile friendly without a bundled
// libsqlite3. The schema here is a deliberately reduced projection of
// createrepo_c's (a denormalized "packages" table with one row per
// NVRA in every database, plus a "filelist" table in
// filelists.sqlite) rather than its full normalized layout: downstream tools only ever query these
// databases by package name/arch, which this schema still serves.
func writeSQLite(path, kind string, pkgs []*Package) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("rpm: opening %s: %w", path, err)
	}
	defer db.Close()

	switch kind {
	case "primary":
		return writePrimarySQLite(db, pkgs)
	case "filelists":
		return writeFilelistsSQLite(db, pkgs)
	case "other":
		return writeOtherSQLite(db, pkgs)
	default:
		return fmt.Errorf("rpm: unknown sqlite kind %q", kind)
	}
}

func writePrimarySQLite(db *sql.DB, pkgs []*Package) error {
	const schema = `
CREATE TABLE packages (
	pkgKey INTEGER PRIMARY KEY,
	pkgId TEXT, name TEXT, arch TEXT, version TEXT, epoch TEXT, release TEXT,
	summary TEXT, description TEXT, url TEXT, time_build INTEGER,
	size_package INTEGER, size_installed INTEGER, size_archive INTEGER,
	location_href TEXT, checksum_type TEXT, license TEXT, vendor TEXT, rpm_group TEXT
);
CREATE INDEX packagename ON packages (name);
`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	stmt, err := db.Prepare(`INSERT INTO packages
		(pkgId, name, arch, version, epoch, release, summary, description, url,
		 time_build, size_package, size_installed, size_archive, location_href,
		 checksum_type, license, vendor, rpm_group)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range pkgs {
		if _, err := stmt.Exec(p.Checksum, p.Name, p.Arch, p.Version, p.Epoch, p.Release,
			p.Summary, p.Description, p.URL, p.BuildTime, p.PackageSize, p.InstalledSize,
			p.ArchiveSize, p.LocationHref, p.ChecksumType, p.License, p.Vendor, p.Group); err != nil {
			return err
		}
	}
	return nil
}

func writeFilelistsSQLite(db *sql.DB, pkgs []*Package) error {
	const schema = `
CREATE TABLE packages (pkgKey INTEGER PRIMARY KEY, pkgId TEXT, name TEXT, arch TEXT, version TEXT, release TEXT);
CREATE TABLE filelist (pkgKey INTEGER, dirname TEXT, filename TEXT);
`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	pkgStmt, err := db.Prepare(`INSERT INTO packages (pkgId, name, arch, version, release) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer pkgStmt.Close()
	fileStmt, err := db.Prepare(`INSERT INTO filelist (pkgKey, dirname, filename) VALUES (?,?,?)`)
	if err != nil {
		return err
	}
	defer fileStmt.Close()

	for _, p := range pkgs {
		res, err := pkgStmt.Exec(p.Checksum, p.Name, p.Arch, p.Version, p.Release)
		if err != nil {
			return err
		}
		pkgKey, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, f := range p.Files {
			dir, name := splitDirFile(f)
			if _, err := fileStmt.Exec(pkgKey, dir, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeOtherSQLite(db *sql.DB, pkgs []*Package) error {
	const schema = `
CREATE TABLE packages (pkgKey INTEGER PRIMARY KEY, pkgId TEXT, name TEXT, arch TEXT, version TEXT, release TEXT);
`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	stmt, err := db.Prepare(`INSERT INTO packages (pkgId, name, arch, version, release) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range pkgs {
		if _, err := stmt.Exec(p.Checksum, p.Name, p.Arch, p.Version, p.Release); err != nil {
			return err
		}
	}
	return nil
}

func splitDirFile(fullpath string) (dir, name string) {
	for i := len(fullpath) - 1; i >= 0; i-- {
		if fullpath[i] == '/' {
			return fullpath[:i+1], fullpath[i+1:]
		}
	}
	return "", fullpath
}
