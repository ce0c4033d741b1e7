package rpm

import (
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

// parseRepomdLocations reads repomd.xml and returns recordType -> href
// for every <data> entry, so the caller can decide which metadata
// files are worth re-downloading and parsing.
func parseRepomdLocations(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var repomd repomdXML
	if err := xml.NewDecoder(f).Decode(&repomd); err != nil {
		return nil, fmt.Errorf("rpm: parsing repomd.xml: %w", err)
	}

	locations := make(map[string]string, len(repomd.Data))
	for _, rec := range repomd.Data {
		locations[rec.Type] = rec.Location.Href
	}
	return locations, nil
}

// parseRecordXML reparses a previously-written primary/filelists/other
// XML file into Package entries carrying whichever fields that record
// type's schema holds, keyed for re-insertion into r.pkgs[recordType].
func parseRecordXML(recordType string, r io.Reader) ([]*Package, error) {
	switch recordType {
	case "primary":
		var meta primaryMetadata
		if err := xml.NewDecoder(r).Decode(&meta); err != nil {
			return nil, fmt.Errorf("rpm: parsing primary.xml: %w", err)
		}
		pkgs := make([]*Package, 0, len(meta.Package))
		for _, p := range meta.Package {
			pkgs = append(pkgs, &Package{
				Name:          p.Name,
				Arch:          p.Arch,
				Version:       p.Version.Version,
				Release:       p.Version.Release,
				NVRA:          p.Name + "-" + p.Version.Version + "-" + p.Version.Release + "." + p.Arch,
				ChecksumType:  p.Checksum.Type,
				Checksum:      p.Checksum.Value,
				Summary:       p.Summary,
				Description:   p.Description,
				URL:           p.URL,
				BuildTime:     p.Time.Build,
				PackageSize:   p.Size.Package,
				InstalledSize: p.Size.Installed,
				ArchiveSize:   p.Size.Archive,
				LocationHref:  p.Location.Href,
				License:       p.Format.License,
				Vendor:        p.Format.Vendor,
				Group:         p.Format.Group,
			})
		}
		return pkgs, nil

	case "filelists":
		var meta filelistsMetadata
		if err := xml.NewDecoder(r).Decode(&meta); err != nil {
			return nil, fmt.Errorf("rpm: parsing filelists.xml: %w", err)
		}
		pkgs := make([]*Package, 0, len(meta.Package))
		for _, p := range meta.Package {
			pkgs = append(pkgs, &Package{
				Name:     p.Name,
				Arch:     p.Arch,
				Version:  p.Version.Version,
				Release:  p.Version.Release,
				NVRA:     p.Name + "-" + p.Version.Version + "-" + p.Version.Release + "." + p.Arch,
				Checksum: p.Pkgid,
				Files:    p.Files,
			})
		}
		return pkgs, nil

	case "other":
		var meta otherMetadata
		if err := xml.NewDecoder(r).Decode(&meta); err != nil {
			return nil, fmt.Errorf("rpm: parsing other.xml: %w", err)
		}
		pkgs := make([]*Package, 0, len(meta.Package))
		for _, p := range meta.Package {
			pkgs = append(pkgs, &Package{
				Name:     p.Name,
				Arch:     p.Arch,
				Version:  p.Version.Version,
				Release:  p.Version.Release,
				NVRA:     p.Name + "-" + p.Version.Version + "-" + p.Version.Release + "." + p.Arch,
				Checksum: p.Pkgid,
			})
		}
		return pkgs, nil

	default:
		return nil, fmt.Errorf("rpm: unknown record type %q", recordType)
	}
}

// checksumHex digests data under algorithm, the repository's
// configured checksum_type, falling back to sha256 for an empty
// algorithm (the documented default).
func checksumHex(algorithm string, data []byte) (string, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
