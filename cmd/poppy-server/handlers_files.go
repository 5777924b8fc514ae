// handlers_files.go implements the commands that move whole filter records
// in and out of the server: BF.DUMP and BF.LOADCHUNK over the wire, BF.SAVE
// and BF.LOAD through files under -data-dir.
//
// A loaded record replaces whatever the key held. Loads are journaled as
// BF.LOADCHUNK with the record itself, so replay never reads -data-dir.

package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"poppy.lopezb.com/internal/bloom"
)

var errBadFileName = errors.New("ERR invalid file name")

// handleBFDump handles BF.DUMP.
// Syntax: BF.DUMP key
//
// Replies with the serialized record, or nil for a missing key. The handle
// is retained for the duration, so a concurrent DEL cannot pull the filter
// away mid-serialization.
func (app *application) handleBFDump(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.DUMP")
		return
	}

	h, ok := app.store.Get(args[0])
	if !ok {
		_ = app.writeNilResponse(w)
		return
	}
	record, err := h.MarshalBinary()
	h.Release()
	if err != nil {
		app.filterErrorResponse(w, err)
		return
	}

	_ = app.writeBulkBytesResponse(w, record)
}

// handleBFLoadChunk handles BF.LOADCHUNK.
// Syntax: BF.LOADCHUNK key payload
//
// payload must be exactly one record as produced by BF.DUMP.
func (app *application) handleBFLoadChunk(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.LOADCHUNK")
		return
	}

	f := new(bloom.Filter)
	if err := f.UnmarshalBinary([]byte(args[1])); err != nil {
		app.filterErrorResponse(w, err)
		return
	}

	app.store.Put(args[0], f, func() { app.logCommand("BF.LOADCHUNK", args) })
	app.metrics.FiltersLoaded.Add(1)
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleBFSave handles BF.SAVE.
// Syntax: BF.SAVE key name
//
// Writes the filter to -data-dir/name. A name ending in ".zst" is stored
// zstd-compressed.
func (app *application) handleBFSave(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.SAVE")
		return
	}

	path, err := app.dataPath(args[1])
	if err != nil {
		_ = app.writeErrorResponse(w, err.Error())
		return
	}

	h, ok := app.store.Get(args[0])
	if !ok {
		_ = app.writeErrorResponse(w, "ERR not found")
		return
	}
	defer h.Release()

	if err := os.MkdirAll(app.config.dataDir, 0o755); err != nil {
		app.logger.Error("failed to create data directory", "error", err, "dir", app.config.dataDir)
		_ = app.writeErrorResponse(w, "ERR "+err.Error())
		return
	}
	if err := h.SaveFile(path); err != nil {
		app.logger.Error("BF.SAVE failed", "error", err, "key", args[0], "path", path)
		app.filterErrorResponse(w, err)
		return
	}

	app.metrics.FiltersSaved.Add(1)
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleBFLoad handles BF.LOAD.
// Syntax: BF.LOAD key name
func (app *application) handleBFLoad(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.LOAD")
		return
	}

	path, err := app.dataPath(args[1])
	if err != nil {
		_ = app.writeErrorResponse(w, err.Error())
		return
	}

	f, err := bloom.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		_ = app.writeErrorResponse(w, "ERR no such file")
		return
	}
	if err != nil {
		app.filterErrorResponse(w, err)
		return
	}

	record, err := f.MarshalBinary()
	if err != nil {
		app.filterErrorResponse(w, err)
		return
	}

	key := args[0]
	app.store.Put(key, f, func() {
		app.logCommand("BF.LOADCHUNK", []string{key, string(record)})
	})
	app.metrics.FiltersLoaded.Add(1)
	_ = app.writeSimpleStringResponse(w, "OK")
}

// dataPath resolves a client-supplied file name inside -data-dir. Only bare
// file names are accepted.
func (app *application) dataPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", errBadFileName
	}
	return filepath.Join(app.config.dataDir, name), nil
}
