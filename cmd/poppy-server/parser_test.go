package main

import (
	"bufio"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestParser(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
		err   error
	}{
		{"inline", "BF.ADD key item\r\n", []string{"BF.ADD", "key", "item"}, nil},
		{"inline extra spaces", "  PING   \r\n", []string{"PING"}, nil},
		{"array", "*2\r\n$4\r\nBF.X\r\n$3\r\na b\r\n", []string{"BF.X", "a b"}, nil},
		{"empty bulk", "*2\r\n$3\r\nDEL\r\n$0\r\n\r\n", []string{"DEL", ""}, nil},
		{"null bulk", "*2\r\n$3\r\nDEL\r\n$-1\r\n", []string{"DEL", ""}, nil},
		{"empty array", "*0\r\n", []string{}, nil},
		{"empty line", "\r\n", nil, ErrInvalidSyntax},
		{"bad count", "*x\r\n", nil, ErrInvalidSyntax},
		{"missing dollar", "*1\r\n:4\r\n", nil, ErrInvalidSyntax},
		{"negative bulk", "*1\r\n$-2\r\n", nil, ErrInvalidSyntax},
		{"bad terminator", "*1\r\n$4\r\nPINGxx", nil, ErrInvalidSyntax},
		{"bulk too large", "*1\r\n$536870913\r\n", nil, ErrBulkTooLarge},
		{"array too long", "*1048577\r\n", nil, ErrArrayTooLong},
		{"truncated bulk", "*1\r\n$10\r\nabc", nil, io.ErrUnexpectedEOF},
		{"missing element", "*2\r\n$4\r\nPING\r\n", nil, io.ErrUnexpectedEOF},
		{"eof", "", nil, io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewParser(strings.NewReader(tt.input)).Parse()
			if err != tt.err {
				t.Fatalf("Expected error %v, got %v", tt.err, err)
			}
			if tt.err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParserLineTooLong(t *testing.T) {
	input := strings.Repeat("a", MaxLineSize+10) + "\r\n"
	if _, err := NewParser(strings.NewReader(input)).Parse(); err != ErrLineTooLong {
		t.Errorf("Expected ErrLineTooLong, got %v", err)
	}
}

// TestParserSharesBufferedReader checks that a caller's *bufio.Reader is
// used as is, so bytes it already buffered are not lost.
func TestParserSharesBufferedReader(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("HEADPING\r\n"))
	head := make([]byte, 4)
	if _, err := io.ReadFull(br, head); err != nil {
		t.Fatal(err)
	}

	got, err := NewParser(br).Parse()
	if err != nil || !reflect.DeepEqual(got, []string{"PING"}) {
		t.Errorf("Expected [PING], got %q (%v)", got, err)
	}
}

func TestParserPipelineBuffered(t *testing.T) {
	p := NewParser(strings.NewReader("PING\r\nPING\r\n"))
	if _, err := p.Parse(); err != nil {
		t.Fatal(err)
	}
	if p.Buffered() == 0 {
		t.Error("Expected the second command to be buffered")
	}
	if _, err := p.Parse(); err != nil {
		t.Fatal(err)
	}
	if p.Buffered() != 0 {
		t.Errorf("Expected empty buffer, got %d", p.Buffered())
	}
}
