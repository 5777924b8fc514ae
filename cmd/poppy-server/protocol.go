package main

import "strconv"

// encodeCommand renders a command as a RESP array of bulk strings, the form
// the journal stores and the parser replays.
//
//	encodeCommand("BF.ADD", []string{"seen", "foo"})
//	=> "*3\r\n$6\r\nBF.ADD\r\n$4\r\nseen\r\n$3\r\nfoo\r\n"
func encodeCommand(command string, args []string) []byte {
	size := 16 + len(command)
	for _, a := range args {
		size += 16 + len(a)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)+1), 10)
	buf = append(buf, '\r', '\n')

	buf = appendBulk(buf, command)
	for _, a := range args {
		buf = appendBulk(buf, a)
	}
	return buf
}

func appendBulk(buf []byte, s string) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}
