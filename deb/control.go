package deb

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"pault.ag/go/debian/control"
)

// Package is one Packages-file stanza: the subset of a .deb's control
// fields this repository cares about, plus the file metadata
// (Filename/Size/the three hashes) control.Marshal expects to find
// alongside it, mirroring the teacher's packages.go Package type.
type Package struct {
	control.Paragraph

	Package       string `required:"true"`
	Source        string
	Version       string `required:"true"`
	Section       string
	Priority      string
	Architecture  string `required:"true"`
	Essential     string
	InstalledSize int    `control:"Installed-Size"`
	Maintainer    string `required:"true"`
	Description   string `required:"true"`
	DescriptionMD5 string `control:"Description-md5"`
	Homepage      string
	Depends       string
	PreDepends    string `control:"Pre-Depends"`
	Recommends    string
	Suggests      string
	Conflicts     string
	Breaks        string
	Replaces      string
	Provides      string

	Filename string `required:"true"`
	Size     int    `required:"true"`
	MD5sum   string `required:"true"`
	SHA1     string `required:"true"`
	SHA256   string `required:"true"`
}

// arMember locates the first member whose name starts with prefix
// within an ar(1) archive, returning its name and raw bytes. ".deb" files are plain ar containers (unlike source
// packages' tar-in-ar-in-tar nesting).
func arMember(r io.Reader, prefix string) (name string, data []byte, err error) {
	reader := ar.NewReader(r)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return "", nil, fmt.Errorf("deb: no %q member found in ar archive", prefix)
		}
		if err != nil {
			return "", nil, err
		}
		name := strings.TrimRight(header.Name, "/")
		if strings.HasPrefix(name, prefix) {
			buf := make([]byte, header.Size)
			if _, err := io.ReadFull(reader, buf); err != nil {
				return "", nil, err
			}
			return name, buf, nil
		}
	}
}

func decompressMember(name string, data []byte) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".tar"):
		return bytes.NewReader(data), nil
	case strings.HasSuffix(name, ".tar.gz"):
		return gzip.NewReader(bytes.NewReader(data))
	case strings.HasSuffix(name, ".tar.xz"):
		return xz.NewReader(bytes.NewReader(data))
	case strings.HasSuffix(name, ".tar.zst"):
		return zstd.NewReader(bytes.NewReader(data))
	case strings.HasSuffix(name, ".tar.bz2"):
		return bzip2.NewReader(bytes.NewReader(data)), nil
	default:
		return nil, fmt.Errorf("deb: unsupported member compression for %q", name)
	}
}

// readControl extracts and parses the control.tar.* member's "control"
// file of the .deb at path into a Package stanza.
func readControl(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name, data, err := arMember(f, "control.tar")
	if err != nil {
		return nil, err
	}
	tarReader, err := decompressMember(name, data)
	if err != nil {
		return nil, err
	}

	tr := tar.NewReader(tarReader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("deb: no control file found inside %q", path)
		}
		if err != nil {
			return nil, err
		}
		if strings.TrimPrefix(hdr.Name, "./") == "control" {
			pkg := &Package{}
			return pkg, control.Unmarshal(pkg, tr)
		}
	}
}

// readDataFiles lists every regular file and symlink the .deb at path
// installs, the content a Contents index line refers to.
func readDataFiles(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name, data, err := arMember(f, "data.tar")
	if err != nil {
		return nil, err
	}
	tarReader, err := decompressMember(name, data)
	if err != nil {
		return nil, err
	}

	var files []string
	tr := tar.NewReader(tarReader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeRegA, tar.TypeSymlink:
			name := strings.TrimPrefix(hdr.Name, "./")
			name = strings.TrimSuffix(name, "/")
			if name != "" {
				files = append(files, name)
			}
		}
	}
	return files, nil
}

// hashFileContents computes the size, MD5, SHA1 and SHA256 of a file
// on disk, the per-file metadata packageFromDeb attaches alongside
// its control stanza.
func hashFileContents(path string) (size int64, md5hex, sha1hex, sha256hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", "", "", err
	}
	defer f.Close()

	md5h, sha1h, sha256h := md5.New(), sha1.New(), sha256.New()
	writer := io.MultiWriter(md5h, sha1h, sha256h)
	n, err := io.Copy(writer, f)
	if err != nil {
		return 0, "", "", "", err
	}
	return n, hexSum(md5h), hexSum(sha1h), hexSum(sha256h), nil
}

func hexSum(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}

// packageFromDeb builds a Packages-file stanza for the .deb at path,
// along with the list of files it installs, mirroring
// PackageFromDeb + _parse_pkg_name/_check_pkg/_hash_description.
func packageFromDeb(path, filename, locationHref string) (*Package, []string, error) {
	pkg, err := readControl(path)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := parsePkgName(filename)
	if err != nil {
		return nil, nil, err
	}
	if err := checkPkg(parsed, pkg.Paragraph, filename); err != nil {
		return nil, nil, err
	}

	size, md5sum, sha1sum, sha256sum, err := hashFileContents(path)
	if err != nil {
		return nil, nil, err
	}
	pkg.Filename = locationHref
	pkg.Size = int(size)
	pkg.MD5sum = md5sum
	pkg.SHA1 = sha1sum
	pkg.SHA256 = sha256sum
	pkg.Paragraph.Set("Filename", locationHref)
	pkg.Paragraph.Set("Size", strconv.Itoa(int(size)))
	pkg.Paragraph.Set("MD5sum", md5sum)
	pkg.Paragraph.Set("SHA1", sha1sum)
	pkg.Paragraph.Set("SHA256", sha256sum)

	values := map[string]string{"Description": pkg.Description}
	hashDescription(values)
	if md5sum, ok := values["Description-md5"]; ok {
		pkg.DescriptionMD5 = md5sum
		pkg.Paragraph.Set("Description-md5", md5sum)
	}

	files, err := readDataFiles(path)
	if err != nil {
		return nil, nil, err
	}
	return pkg, files, nil
}
