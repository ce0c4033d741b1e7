// Package rpm's XML encoders render primary.xml, filelists.xml,
// other.xml and repomd.xml with encoding/xml, the same stdlib package
// the teacher's own Debian control parsing avoids needing (Debian has
// no XML metadata) but that no library in the example pack offers an
// alternative to for arbitrary XML trees.
package rpm

import (
	"encoding/xml"
	"fmt"
)

const (
	primaryXMLNS    = "http://linux.duke.edu/metadata/common"
	primaryRPMNS    = "http://linux.duke.edu/metadata/rpm"
	filelistsXMLNS  = "http://linux.duke.edu/metadata/filelists"
	otherXMLNS      = "http://linux.duke.edu/metadata/other"
	repomdXMLNS     = "http://linux.duke.edu/metadata/repo"
	repomdRPMNS     = "http://linux.duke.edu/metadata/rpm"
)

type primaryVersion struct {
	Epoch   string `xml:"epoch,attr"`
	Version string `xml:"ver,attr"`
	Release string `xml:"rel,attr"`
}

type primaryChecksum struct {
	Type  string `xml:"type,attr"`
	Pkgid string `xml:"pkgid,attr"`
	Value string `xml:",chardata"`
}

type primaryEntry struct {
	Name string `xml:"name,attr"`
}

type primaryDependency struct {
	Entries []primaryEntry `xml:"rpm:entry"`
}

type primaryFormat struct {
	License  string             `xml:"rpm:license"`
	Vendor   string             `xml:"rpm:vendor"`
	Group    string             `xml:"rpm:group"`
	Provides *primaryDependency `xml:"rpm:provides,omitempty"`
	Requires *primaryDependency `xml:"rpm:requires,omitempty"`
	Files    []string           `xml:"file"`
}

type primaryPackage struct {
	Type        string          `xml:"type,attr"`
	Name        string          `xml:"name"`
	Arch        string          `xml:"arch"`
	Version     primaryVersion  `xml:"version"`
	Checksum    primaryChecksum `xml:"checksum"`
	Summary     string          `xml:"summary"`
	Description string          `xml:"description"`
	URL         string          `xml:"url"`
	Time        struct {
		Build int64 `xml:"build,attr"`
	} `xml:"time"`
	Size struct {
		Package   int64 `xml:"package,attr"`
		Installed int64 `xml:"installed,attr"`
		Archive   int64 `xml:"archive,attr"`
	} `xml:"size"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Format primaryFormat `xml:"format"`
}

type primaryMetadata struct {
	XMLName  xml.Name         `xml:"metadata"`
	Xmlns    string           `xml:"xmlns,attr"`
	XmlnsRPM string           `xml:"xmlns:rpm,attr"`
	Packages int              `xml:"packages,attr"`
	Package  []primaryPackage `xml:"package"`
}

func depsToXML(deps []Dependency) *primaryDependency {
	if len(deps) == 0 {
		return nil
	}
	entries := make([]primaryEntry, len(deps))
	for i, d := range deps {
		entries[i] = primaryEntry{Name: d.Name}
	}
	return &primaryDependency{Entries: entries}
}

// renderPrimary renders primary.xml for every package, ordered as
// given by the caller (a stable, deterministic package order).
func renderPrimary(pkgs []*Package) ([]byte, error) {
	meta := primaryMetadata{
		Xmlns:    primaryXMLNS,
		XmlnsRPM: primaryRPMNS,
		Packages: len(pkgs),
	}
	for _, p := range pkgs {
		entry := primaryPackage{
			Type:        "rpm",
			Name:        p.Name,
			Arch:        p.Arch,
			Version:     primaryVersion{Epoch: fmt.Sprintf("%d", p.Epoch), Version: p.Version, Release: p.Release},
			Checksum:    primaryChecksum{Type: p.ChecksumType, Pkgid: "YES", Value: p.Checksum},
			Summary:     p.Summary,
			Description: p.Description,
			URL:         p.URL,
			Format: primaryFormat{
				License:  p.License,
				Vendor:   p.Vendor,
				Group:    p.Group,
				Provides: depsToXML(p.Provides),
				Requires: depsToXML(p.Requires),
			},
		}
		entry.Time.Build = p.BuildTime
		entry.Size.Package = p.PackageSize
		entry.Size.Installed = p.InstalledSize
		entry.Size.Archive = p.ArchiveSize
		entry.Location.Href = p.LocationHref
		meta.Package = append(meta.Package, entry)
	}
	return marshalWithHeader(meta)
}

type filelistsPackage struct {
	Pkgid   string         `xml:"pkgid,attr"`
	Name    string         `xml:"name,attr"`
	Arch    string         `xml:"arch,attr"`
	Version primaryVersion `xml:"version"`
	Files   []string       `xml:"file"`
}

type filelistsMetadata struct {
	XMLName  xml.Name           `xml:"filelists"`
	Xmlns    string             `xml:"xmlns,attr"`
	Packages int                `xml:"packages,attr"`
	Package  []filelistsPackage `xml:"package"`
}

// renderFilelists renders filelists.xml for every package.
func renderFilelists(pkgs []*Package) ([]byte, error) {
	meta := filelistsMetadata{Xmlns: filelistsXMLNS, Packages: len(pkgs)}
	for _, p := range pkgs {
		meta.Package = append(meta.Package, filelistsPackage{
			Pkgid:   p.Checksum,
			Name:    p.Name,
			Arch:    p.Arch,
			Version: primaryVersion{Epoch: fmt.Sprintf("%d", p.Epoch), Version: p.Version, Release: p.Release},
			Files:   p.Files,
		})
	}
	return marshalWithHeader(meta)
}

type otherPackage struct {
	Pkgid   string         `xml:"pkgid,attr"`
	Name    string         `xml:"name,attr"`
	Arch    string         `xml:"arch,attr"`
	Version primaryVersion `xml:"version"`
}

type otherMetadata struct {
	XMLName  xml.Name       `xml:"otherdata"`
	Xmlns    string         `xml:"xmlns,attr"`
	Packages int            `xml:"packages,attr"`
	Package  []otherPackage `xml:"package"`
}

// renderOther renders other.xml for every package. Changelog entries
// are not tracked by this system (cavaliergopher/rpm exposes RPM
// headers, not changelog history), so each package entry carries only
// its identity, matching a freshly built repository with no history.
func renderOther(pkgs []*Package) ([]byte, error) {
	meta := otherMetadata{Xmlns: otherXMLNS, Packages: len(pkgs)}
	for _, p := range pkgs {
		meta.Package = append(meta.Package, otherPackage{
			Pkgid:   p.Checksum,
			Name:    p.Name,
			Arch:    p.Arch,
			Version: primaryVersion{Epoch: fmt.Sprintf("%d", p.Epoch), Version: p.Version, Release: p.Release},
		})
	}
	return marshalWithHeader(meta)
}

// repomdRecord is one <data> entry in repomd.xml.
type repomdRecord struct {
	Type         string `xml:"type,attr"`
	Checksum     repomdChecksum `xml:"checksum"`
	OpenChecksum *repomdChecksum `xml:"open-checksum,omitempty"`
	Location     struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Timestamp int64 `xml:"timestamp"`
	Size      int64 `xml:"size"`
	OpenSize  int64 `xml:"open-size,omitempty"`
}

type repomdChecksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type repomdXML struct {
	XMLName  xml.Name       `xml:"repomd"`
	Xmlns    string         `xml:"xmlns,attr"`
	XmlnsRPM string         `xml:"xmlns:rpm,attr"`
	Revision int64          `xml:"revision"`
	Data     []repomdRecord `xml:"data"`
}

func marshalWithHeader(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
