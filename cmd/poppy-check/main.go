// poppy-check inspects and validates poppy persistence files. It accepts
// either a single filter file (as written by BF.SAVE or the poppy CLI,
// optionally zstd-compressed) or a server journal whose binary preamble is a
// PPY1 snapshot.
//
// The file is streamed: snapshot entries are decoded one at a time and the
// CRC64 checksum is computed on the fly.
//
// Usage Examples
// ==============
//
// Basic validation:
//
//	poppy-check -file journal.aof
//
// List every key with its filter parameters:
//
//	poppy-check -file journal.aof -v
//
// Also show the fill ratio of each sub-filter:
//
//	poppy-check -file seen.bf.zst -layers
//
// Exit Codes
// ==========
//
// 0: The file is valid.
// 1: The file is corrupted or unreadable.
//
// For a hybrid journal only the binary preamble is validated; a RESP tail
// after the checksum is reported but not parsed.

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"poppy.lopezb.com/internal/bloom"
)

const (
	persistenceMagic = "PPY1"
	OpCodeShardData  = 0xFE
	OpCodeEOF        = 0xFF
	flagCompressed   = 1 << 0

	// maxEntrySize mirrors the server's bulk string limit.
	maxEntrySize = 512 * 1024 * 1024
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// CountReader tracks the byte offset of the underlying reader so errors can
// point at the exact position of the damage.
type CountReader struct {
	r     io.Reader
	count int64
}

func (cr *CountReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

type options struct {
	verbose bool
	layers  bool
}

// corruption is a validation failure at a known offset.
type corruption struct {
	offset int64
	msg    string
	err    error
}

func (c *corruption) Error() string {
	if c.err != nil {
		return fmt.Sprintf("[offset %d] %s: %v", c.offset, c.msg, c.err)
	}
	return fmt.Sprintf("[offset %d] %s", c.offset, c.msg)
}

func (c *corruption) Unwrap() error { return c.err }

// checker validates one file and writes its report to out.
type checker struct {
	out     io.Writer
	opts    options
	counter *CountReader
	reader  *bufio.Reader
}

func newChecker(out io.Writer, r io.Reader, opts options) *checker {
	counter := &CountReader{r: r}
	return &checker{out: out, opts: opts, counter: counter, reader: bufio.NewReader(counter)}
}

// offset is the position of the next unread byte.
func (c *checker) offset() int64 {
	return c.counter.count - int64(c.reader.Buffered())
}

func (c *checker) fail(msg string, err error) error {
	return &corruption{offset: c.offset(), msg: msg, err: err}
}

func (c *checker) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// run detects the file kind from its first bytes and validates it.
func (c *checker) run() error {
	head, _ := c.reader.Peek(len(bloom.Magic))
	switch {
	case bytes.HasPrefix(head, []byte(persistenceMagic)):
		return c.checkSnapshot()
	case bytes.HasPrefix(head, zstdMagic), bytes.Equal(head, []byte(bloom.Magic)):
		return c.checkFilterFile()
	}
	return c.fail(fmt.Sprintf("Unknown file type: leading bytes %q", head), nil)
}

func (c *checker) checkFilterFile() error {
	compressed, _ := c.reader.Peek(len(zstdMagic))
	kind := "filter record"
	if bytes.Equal(compressed, zstdMagic) {
		kind = "zstd-compressed filter record"
	}
	c.printf("[offset 0] Detected %s\n", kind)

	f, err := bloom.Load(c.reader)
	if err != nil {
		return c.fail("Invalid filter record", err)
	}
	c.printf("[offset %d] Record OK: %s\n", c.offset(), describe(f.Info()))
	if c.opts.layers {
		c.printLayers(f.Info())
	}

	if _, err := c.reader.Peek(1); err == nil {
		c.printf("[warn] %s is followed by extra bytes\n", kind)
	}
	return nil
}

func (c *checker) checkSnapshot() error {
	c.printf("[offset 0] Detected PPY1 snapshot\n")

	hasher := crc64.New(crc64.MakeTable(crc64.ISO))
	tr := io.TeeReader(c.reader, hasher)

	header := make([]byte, len(persistenceMagic))
	if _, err := io.ReadFull(tr, header); err != nil {
		return c.fail("Failed to read header", err)
	}

	var lenBuf [4]byte
	readLen := func() (uint32, error) {
		_, err := io.ReadFull(tr, lenBuf[:])
		return binary.LittleEndian.Uint32(lenBuf[:]), err
	}
	readByte := func() (byte, error) {
		var b [1]byte
		_, err := io.ReadFull(tr, b[:])
		return b[0], err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	start := time.Now()
	totalKeys := 0
	stats := make(map[string]int)

	for {
		opcode, err := readByte()
		if err != nil {
			return c.fail("Failed reading opcode", err)
		}
		if opcode == OpCodeEOF {
			break
		}
		if opcode != OpCodeShardData {
			return c.fail(fmt.Sprintf("Unexpected opcode: %x", opcode), nil)
		}

		shardID, err := readByte()
		if err != nil {
			return c.fail("Failed reading shard ID", err)
		}
		count, err := readLen()
		if err != nil {
			return c.fail("Failed reading key count", err)
		}
		c.printf("[offset %d] Processing Shard %d: %d keys\n", c.offset(), shardID, count)

		for i := uint32(0); i < count; i++ {
			kLen, err := readLen()
			if err != nil {
				return c.fail("Truncated key length", err)
			}
			if kLen > maxEntrySize {
				return c.fail(fmt.Sprintf("Key length %d exceeds limit", kLen), nil)
			}
			var key bytes.Buffer
			if _, err := io.CopyN(&key, tr, int64(kLen)); err != nil {
				return c.fail("Truncated key data", err)
			}

			flags, err := readByte()
			if err != nil {
				return c.fail("Truncated entry flags", err)
			}
			vLen, err := readLen()
			if err != nil {
				return c.fail("Truncated record length", err)
			}
			if vLen > maxEntrySize {
				return c.fail(fmt.Sprintf("Record length %d exceeds limit", vLen), nil)
			}
			var record bytes.Buffer
			if _, err := io.CopyN(&record, tr, int64(vLen)); err != nil {
				return c.fail("Truncated record data", err)
			}

			raw := record.Bytes()
			if flags&flagCompressed != 0 {
				if raw, err = dec.DecodeAll(raw, nil); err != nil {
					return c.fail(fmt.Sprintf("Key '%s': bad compressed record", key.String()), err)
				}
			}

			f := new(bloom.Filter)
			if err := f.UnmarshalBinary(raw); err != nil {
				return c.fail(fmt.Sprintf("Key '%s': invalid filter record", key.String()), err)
			}

			totalKeys++
			info := f.Info()
			stats[fmt.Sprintf("%s/%s", info.Version, info.Variant)]++

			if c.opts.verbose || c.opts.layers {
				note := ""
				if flags&flagCompressed != 0 {
					note = fmt.Sprintf(" [zstd %d -> %d bytes]", vLen, len(raw))
				}
				c.printf("[offset %d] Key '%s' %s%s\n", c.offset(), key.String(), describe(info), note)
			}
			if c.opts.layers {
				c.printLayers(info)
			}
		}
	}

	calculated := hasher.Sum64()
	var stored [8]byte
	if _, err := io.ReadFull(c.reader, stored[:]); err != nil {
		return c.fail("Failed to read checksum", err)
	}
	if sum := binary.LittleEndian.Uint64(stored[:]); sum != calculated {
		return c.fail(fmt.Sprintf("Checksum MISMATCH: file %016x, calculated %016x", sum, calculated), nil)
	}
	c.printf("[offset %d] Checksum OK (%016x)\n", c.offset(), calculated)
	c.printf("[offset %d] Binary Snapshot looks OK\n", c.offset())

	if _, err := c.reader.Peek(1); err == nil {
		c.printf("[offset %d] Found AOF Text Tail (Hybrid Mode)\n", c.offset())
		c.printf("             (Text data verification is skipped by this tool)\n")
	} else if err != io.EOF {
		c.printf("[warn] Error checking for tail: %v\n", err)
	}

	c.printf("\nSummary:\n")
	c.printf("  Process Time: %v\n", time.Since(start))
	c.printf("  Total Keys:   %d\n", totalKeys)
	kinds := make([]string, 0, len(stats))
	for k := range stats {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		c.printf("    %d\t%s\n", stats[k], k)
	}
	return nil
}

func (c *checker) printLayers(info bloom.Info) {
	for i, l := range info.Layers {
		c.printf("      layer %d: k=%d m=%d capacity=%d fpp=%g fill=%.4f est=%d\n",
			i, l.K, l.M, l.Capacity, l.FPP, l.Fill, l.Estimate)
	}
}

// describe renders the one-line summary of a filter.
func describe(info bloom.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "(%s %s, Capacity:%d, FPP:%g, Layers:%d, Bits:%d, Est:%d)",
		info.Version, info.Variant, info.Capacity, info.FPP, len(info.Layers), info.SizeBits, info.Estimate)
	return b.String()
}

func main() {
	filePath := flag.String("file", "journal.aof", "Path to a journal, snapshot or filter file")
	verbose := flag.Bool("v", false, "Verbose mode (print every key)")
	layers := flag.Bool("layers", false, "Print sub-filter details (implies -v)")
	flag.Parse()

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] Cannot open file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	fmt.Printf("[offset 0] Checking poppy file %s\n", *filePath)

	c := newChecker(os.Stdout, f, options{verbose: *verbose, layers: *layers})
	if err := c.run(); err != nil {
		die(err)
	}
}

// die prints a fatal error, with its offset when known, and exits.
func die(err error) {
	var cor *corruption
	if errors.As(err, &cor) {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", cor)
	} else {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
	}
	os.Exit(1)
}
