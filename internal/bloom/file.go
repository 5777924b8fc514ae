package bloom

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedExt marks files that SaveFile writes zstd-compressed.
const CompressedExt = ".zst"

// zstdMagic opens every zstd frame (RFC 8878).
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// SaveFile writes the filter to path atomically: the record goes to a
// temporary sibling which is fsynced and then renamed over path. Paths ending
// in CompressedExt are zstd-compressed.
func (f *Filter) SaveFile(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return ioError(err)
	}

	// Cleanup on any failure below.
	fileClosed := false
	renamed := false
	defer func() {
		if !fileClosed {
			file.Close()
		}
		if !renamed {
			os.Remove(tmpPath)
		}
	}()

	if strings.HasSuffix(path, CompressedExt) {
		enc, err := zstd.NewWriter(file)
		if err != nil {
			return ioError(err)
		}
		if _, err := f.WriteTo(enc); err != nil {
			enc.Close()
			return err
		}
		if err := enc.Close(); err != nil {
			return ioError(err)
		}
	} else if _, err := f.WriteTo(file); err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return ioError(err)
	}
	if err := file.Close(); err != nil {
		return ioError(err)
	}
	fileClosed = true

	if err := os.Rename(tmpPath, path); err != nil {
		return ioError(err)
	}
	renamed = true
	return nil
}

// LoadFile reads a filter saved by SaveFile. Compression is detected from
// the content, not from the file name.
func LoadFile(path string) (*Filter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, ioError(err)
	}
	defer file.Close()
	return readMaybeCompressed(bufio.NewReader(file))
}

func readMaybeCompressed(br *bufio.Reader) (*Filter, error) {
	// A short peek is not an error here; Read reports the missing magic.
	head, _ := br.Peek(len(zstdMagic))
	if !bytes.Equal(head, zstdMagic) {
		return Read(br)
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, ioError(err)
	}
	defer dec.Close()
	return Read(dec)
}

// Load is Read with transparent zstd decompression.
func Load(r io.Reader) (*Filter, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return readMaybeCompressed(br)
}
