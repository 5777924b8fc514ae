// parser.go reads client requests off the wire.
//
// The server speaks the request half of RESP, so redis-cli, redis-benchmark
// and any Redis client library can talk to it without a custom driver. Two
// request shapes reach a server:
//
//	Array of bulk strings:  "*3\r\n$6\r\nBF.ADD\r\n$4\r\nseen\r\n$3\r\nfoo\r\n"
//	Inline (telnet/netcat): "BF.ADD seen foo\r\n"
//
// Bulk strings are length-prefixed, which keeps BF.LOADCHUNK payloads (raw
// filter records) binary-safe.
//
// Limits
// ======
//
// Every length that comes from the client is checked before anything is
// allocated for it: bulk strings against MaxBulkLength, array counts against
// MaxArrayLen, and header or inline lines against MaxLineSize.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

const (
	// MaxBulkLength bounds a single bulk string (512MB, as in Redis). It is
	// also the largest filter record BF.LOADCHUNK can carry.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLen bounds the element count of a request array.
	MaxArrayLen = 1 << 20

	// MaxLineSize bounds a header or inline line.
	MaxLineSize = 64 * 1024
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string exceeds 512MB limit")
	ErrArrayTooLong  = errors.New("ERR protocol error: array exceeds 1M elements limit")
)

type Parser struct {
	reader *bufio.Reader
}

// NewParser wraps r. A *bufio.Reader is used as is, so a caller that already
// consumed part of the stream through it (the journal loader) keeps its
// buffered bytes.
func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{reader: br}
	}
	return &Parser{reader: bufio.NewReaderSize(r, 4096)}
}

// Parse returns the next request as command name plus arguments.
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}

	if line[0] == '*' {
		return p.parseArray(line[1:])
	}
	return parseInline(line)
}

// Buffered reports how many request bytes are already waiting. A non-zero
// value means the client pipelined and the response flush can be deferred.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

func (p *Parser) readLine() ([]byte, error) {
	line, more, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
	if !more {
		return line, nil
	}

	// The line outgrew the reader's buffer; stitch the pieces together
	// without ever holding more than MaxLineSize.
	var buf bytes.Buffer
	buf.Write(line)
	for more {
		line, more, err = p.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

func parseInline(line []byte) ([]string, error) {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, ErrInvalidSyntax
	}

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return parts, nil
}

func (p *Parser) parseArray(countField []byte) ([]string, error) {
	count, err := strconv.Atoi(string(bytes.TrimSpace(countField)))
	if err != nil {
		return nil, ErrInvalidSyntax
	}

	// *0 and the null array *-1 carry no command.
	if count <= 0 {
		return []string{}, nil
	}
	if count > MaxArrayLen {
		return nil, ErrArrayTooLong
	}

	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		s, err := p.parseBulk()
		if err == io.EOF {
			// The header promised more elements.
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return parts, nil
}

// parseBulk reads "$<len>\r\n<data>\r\n". The null bulk string ($-1) comes
// back as "", since no command tells null and empty apart.
func (p *Parser) parseBulk() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(line) == 0 || line[0] != '$' {
		return "", ErrInvalidSyntax
	}

	n, err := strconv.Atoi(string(bytes.TrimSpace(line[1:])))
	if err != nil {
		return "", ErrInvalidSyntax
	}
	switch {
	case n == -1:
		return "", nil
	case n < 0:
		return "", ErrInvalidSyntax
	case n > MaxBulkLength:
		return "", ErrBulkTooLarge
	}

	// Payload and trailing CRLF in one read.
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return "", ErrInvalidSyntax
	}
	return string(buf[:n]), nil
}
