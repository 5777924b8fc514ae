package main

import (
	"errors"
	"fmt"
	"io"

	"poppy.lopezb.com/internal/bloom"
)

func (app *application) unknownCommandResponse(w io.Writer, name string) {
	_ = app.writeErrorResponse(w, fmt.Sprintf("ERR unknown command '%s'", name))
}

func (app *application) wrongNumberOfArgsResponse(w io.Writer, name string) {
	_ = app.writeErrorResponse(w, fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
}

func (app *application) syntaxErrorResponse(w io.Writer) {
	_ = app.writeErrorResponse(w, "ERR syntax error")
}

// filterErrorResponse maps an error from the filter engine or the registry
// to a client error.
func (app *application) filterErrorResponse(w io.Writer, err error) {
	var msg string
	switch {
	case errors.Is(err, errKeyExists):
		msg = "ERR item exists"
	case errors.Is(err, bloom.ErrUnsupportedVersion):
		msg = "ERR unsupported version"
	case errors.Is(err, bloom.ErrInvalidVariant):
		msg = "ERR invalid variant"
	case errors.Is(err, bloom.ErrInvalidParameter):
		msg = "ERR invalid parameter"
	case errors.Is(err, bloom.ErrInvalidFormat), errors.Is(err, bloom.ErrCorruptFormat):
		msg = "ERR invalid filter record"
	default:
		msg = "ERR " + err.Error()
	}
	_ = app.writeErrorResponse(w, msg)
}
