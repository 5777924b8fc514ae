package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		want    string
	}{
		{
			name:    "Simple Command",
			command: "PING",
			args:    []string{},
			want:    "*1\r\n$4\r\nPING\r\n",
		},
		{
			name:    "Command with Args",
			command: "BF.ADD",
			args:    []string{"users", "user1"},
			want:    "*3\r\n$6\r\nBF.ADD\r\n$5\r\nusers\r\n$5\r\nuser1\r\n",
		},
		{
			name:    "Empty String Argument",
			command: "BF.ADD",
			args:    []string{"mykey", ""},
			want:    "*3\r\n$6\r\nBF.ADD\r\n$5\r\nmykey\r\n$0\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeCommand(tt.command, tt.args)
			if string(got) != tt.want {
				t.Errorf("encodeCommand() = %q, want %q", string(got), tt.want)
			}
		})
	}
}

// TestEncodeParseBinary feeds a binary payload, the shape of a journaled
// BF.LOADCHUNK, through the encoder and back through the parser.
func TestEncodeParseBinary(t *testing.T) {
	payload := string([]byte{0, '\r', '\n', 0xff, '$', '*', ' '})
	encoded := encodeCommand("BF.LOADCHUNK", []string{"k", payload})

	got, err := NewParser(strings.NewReader(string(encoded))).Parse()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"BF.LOADCHUNK", "k", payload}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
