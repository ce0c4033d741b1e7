package compression

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/repoup/repoup/subprocess"
)

// Kind names a compression format metadata can be published in.
type Kind string

const (
	None Kind = ""
	GZ   Kind = "gz"
	XZ   Kind = "xz"
	ZSTD Kind = "zstd"
	BZ2  Kind = "bz2"
)

// Suffix returns the filename suffix a Kind appends, e.g. ".gz".
func (k Kind) Suffix() string {
	switch k {
	case GZ:
		return ".gz"
	case XZ:
		return ".xz"
	case ZSTD:
		return ".zst"
	case BZ2:
		return ".bz2"
	default:
		return ""
	}
}

// Compress encodes data with kind. BZ2 is not handled here: the
// stdlib has no bzip2 encoder and no pack library supplies one, so
// bzip2 output is produced by shelling out to the real bzip2 binary
// via CompressBZ2.
func Compress(kind Kind, data []byte) ([]byte, error) {
	switch kind {
	case None:
		return data, nil
	case GZ:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case XZ:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ZSTD:
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("compression: %q has no in-process encoder, use CompressBZ2", kind)
	}
}

// CompressBZ2 runs the system bzip2 binary over relpath (inside
// runner's directory), leaving relpath+".bz2" alongside it and
// removing the uncompressed input, the same round-trip the RPM
// database compression step performs.
func CompressBZ2(ctx context.Context, runner *subprocess.Runner, relpath string) (string, error) {
	if _, err := runner.Run(ctx, []string{"bzip2", "-f", "-9", relpath}, subprocess.DefaultOptions()); err != nil {
		return "", err
	}
	return relpath + ".bz2", nil
}
