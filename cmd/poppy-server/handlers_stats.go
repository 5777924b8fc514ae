package main

import (
	"fmt"
	"io"
	"strings"
)

// entryOverhead approximates the per-key cost outside the bit arrays: the
// map entry, the key string header, the Shared handle and the Filter with
// its layer slice.
const entryOverhead = 160

// layerOverhead approximates one sub-filter's struct and bitset header.
const layerOverhead = 96

// handleMemory handles the MEMORY command.
// Syntax: MEMORY USAGE <key>
func (app *application) handleMemory(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "MEMORY")
		return
	}

	sub := strings.ToUpper(args[0])
	switch sub {
	case "USAGE":
		app.handleMemoryUsage(w, args[1:])
	default:
		_ = app.writeErrorResponse(w, fmt.Sprintf("ERR unknown subcommand '%s'. Try MEMORY USAGE <key>", sub))
	}
}

// handleMemoryUsage replies with an estimate of the bytes held by key, or
// nil when the key does not exist.
func (app *application) handleMemoryUsage(w io.Writer, args []string) {
	if len(args) != 1 {
		_ = app.writeErrorResponse(w, "ERR wrong number of arguments for 'MEMORY USAGE' command")
		return
	}

	key := args[0]
	h, ok := app.store.Get(key)
	if !ok {
		_ = app.writeNilResponse(w)
		return
	}
	bits, layers := h.SizeBits(), h.Layers()
	h.Release()

	// Bits are held in 64-bit words per layer; round each layer up.
	words := (bits + 63) / 64
	size := int64(entryOverhead + len(key) + layers*layerOverhead + layers*8)
	size += clampInt64(words * 8)

	_ = app.writeIntegerResponse64(w, size)
}
