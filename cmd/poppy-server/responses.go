package main

import (
	"io"
	"strconv"
)

// Responses that make up most of the traffic are encoded once.
var (
	respOK   = []byte("+OK\r\n")
	respPong = []byte("+PONG\r\n")
	respZero = []byte(":0\r\n")
	respOne  = []byte(":1\r\n")
	respNil  = []byte("$-1\r\n")
)

func (app *application) writeSimpleStringResponse(w io.Writer, s string) error {
	switch s {
	case "OK":
		_, err := w.Write(respOK)
		return err
	case "PONG":
		_, err := w.Write(respPong)
		return err
	}

	buf := make([]byte, 0, len(s)+3)
	buf = append(buf, '+')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeErrorResponse(w io.Writer, msg string) error {
	buf := make([]byte, 0, len(msg)+3)
	buf = append(buf, '-')
	buf = append(buf, msg...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeBulkStringResponse(w io.Writer, s string) error {
	_, err := w.Write(appendBulk(make([]byte, 0, len(s)+16), s))
	return err
}

// writeBulkBytesResponse sends data as a bulk string without a string
// conversion. BF.DUMP records can be large.
func (app *application) writeBulkBytesResponse(w io.Writer, data []byte) error {
	head := make([]byte, 0, 16)
	head = append(head, '$')
	head = strconv.AppendInt(head, int64(len(data)), 10)
	head = append(head, '\r', '\n')
	if _, err := w.Write(head); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\r', '\n'})
	return err
}

func (app *application) writeIntegerResponse(w io.Writer, i int) error {
	return app.writeIntegerResponse64(w, int64(i))
}

func (app *application) writeIntegerResponse64(w io.Writer, i int64) error {
	switch i {
	case 0:
		_, err := w.Write(respZero)
		return err
	case 1:
		_, err := w.Write(respOne)
		return err
	}

	buf := make([]byte, 0, 24)
	buf = appendInteger(buf, i)
	_, err := w.Write(buf)
	return err
}

func (app *application) writeNilResponse(w io.Writer) error {
	_, err := w.Write(respNil)
	return err
}

// writeIntegerArrayResponse sends one integer per item, the reply shape of
// BF.MADD and BF.MEXISTS. The whole reply goes out in a single Write.
func (app *application) writeIntegerArrayResponse(w io.Writer, values []int) error {
	buf := make([]byte, 0, 16+len(values)*4)
	buf = appendArrayHeader(buf, len(values))
	for _, v := range values {
		buf = appendInteger(buf, int64(v))
	}
	_, err := w.Write(buf)
	return err
}

// infoField is one name/value pair of a BF.INFO reply. Exactly one of str
// and num is used, selected by isStr.
type infoField struct {
	name  string
	isStr bool
	str   string
	num   int64
}

// writeFieldsResponse sends fields as a flat array of name, value, name,
// value, ... the way Redis module INFO commands reply.
func (app *application) writeFieldsResponse(w io.Writer, fields []infoField) error {
	buf := make([]byte, 0, 64*len(fields))
	buf = appendArrayHeader(buf, 2*len(fields))
	for _, f := range fields {
		buf = appendBulk(buf, f.name)
		if f.isStr {
			buf = appendBulk(buf, f.str)
		} else {
			buf = appendInteger(buf, f.num)
		}
	}
	_, err := w.Write(buf)
	return err
}

func appendArrayHeader(buf []byte, n int) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, '\r', '\n')
}

func appendInteger(buf []byte, i int64) []byte {
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, i, 10)
	return append(buf, '\r', '\n')
}
