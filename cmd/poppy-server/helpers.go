package main

import (
	"net"
	"strconv"
	"time"

	"poppy.lopezb.com/internal/bloom"
)

// writeResponse writes data straight to conn under a write deadline. Used
// outside the per-connection buffered writer, e.g. to turn away a client.
func (app *application) writeResponse(conn net.Conn, data []byte) error {
	remoteAddr := conn.RemoteAddr().String()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		app.logger.Error("failed to set write deadline", "error", err, "remote_addr", remoteAddr)
		return err
	}
	if _, err := conn.Write(data); err != nil {
		app.logger.Error("failed to write response", "error", err, "remote_addr", remoteAddr)
		return err
	}
	return nil
}

// defaultParams are the parameters BF.ADD and BF.MADD use when they create
// a filter.
func (app *application) defaultParams() bloom.Params {
	p := bloom.Params{
		Capacity: app.config.bfCapacity,
		FPP:      app.config.bfErrorRate,
		Version:  bloom.Version(app.config.bfVersion),
		Variant:  bloom.Classic,
	}
	if app.config.bfScalable {
		p.Variant = bloom.Scalable
	}
	return p
}

// reserveArgs renders p as BF.RESERVE arguments for key, so that replaying
// the journal rebuilds the filter with the exact parameters in force when it
// was created.
func reserveArgs(key string, p bloom.Params) []string {
	variant := "CLASSIC"
	if p.Variant == bloom.Scalable {
		variant = "SCALABLE"
	}
	return []string{
		key,
		strconv.FormatFloat(p.FPP, 'g', -1, 64),
		strconv.FormatUint(p.Capacity, 10),
		"VERSION", strconv.Itoa(int(p.Version)),
		variant,
	}
}
