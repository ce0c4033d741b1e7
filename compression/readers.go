// Package compression picks apart and puts back together the
// compressed forms repository metadata is published in (gzip, xz, and
// bzip2 for RPM databases). Reading follows the teacher's suffix-
// dispatch Decompress; on top of that this system also needs to
// write compressed output, which the teacher never does, so the
// decoder-only xi2.org/x/xz is replaced here with ulikunitz/xz (reads
// and writes) and gzip goes through klauspost/compress, already a
// direct dependency for zstd (RPM metadata compression, and .deb
// members packed as .tar.zst).
package compression

import (
	"io"
	"strings"

	"compress/bzip2"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

type compressionReader func(io.Reader) (io.Reader, error)

func gzipNewReader(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func xzNewReader(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r)
}

func bzipNewReader(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

var knownReaders = map[string]compressionReader{
	".gz":  gzipNewReader,
	".bz2": bzipNewReader,
	".xz":  xzNewReader,
}

// Decompress wraps reader in a decompressor chosen by fileName's
// suffix, or returns it unwrapped if the suffix is unrecognized. tee,
// if non-nil, receives a copy of the raw compressed bytes as they are
// read (used to compute a content hash without a second pass).
func Decompress(reader io.Reader, fileName string, tee io.Writer) (io.Reader, error) {
	if tee != nil {
		reader = io.TeeReader(reader, tee)
	}

	for suffix, decompressor := range knownReaders {
		if strings.HasSuffix(fileName, suffix) {
			newReader, err := decompressor(reader)
			if err != nil {
				return nil, err
			}
			return newReader, nil
		}
	}

	return reader, nil
}
