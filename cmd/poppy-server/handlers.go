// handlers.go implements the server-level commands: PING, INFO, DEL and
// COMPACT.

package main

import (
	"fmt"
	"io"
	"strings"
)

// handlePing handles PING.
func (app *application) handlePing(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "PING")
		return
	}
	_ = app.writeSimpleStringResponse(w, "PONG")
}

// handleInfo handles INFO.
//
// The report uses the Redis INFO layout: "# Section" headers followed by
// CRLF-terminated key:value lines.
func (app *application) handleInfo(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	m := app.metrics
	var b strings.Builder

	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "connections_total:%d\r\n", m.TotalConnections.Load())
	fmt.Fprintf(&b, "connections_active:%d\r\n", len(app.connLimiter))
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", m.TotalCommands.Load())

	b.WriteString("# Filters\r\n")
	fmt.Fprintf(&b, "filters:%d\r\n", app.store.Len())
	fmt.Fprintf(&b, "items_added_total:%d\r\n", m.ItemsAdded.Load())
	fmt.Fprintf(&b, "items_checked_total:%d\r\n", m.ItemsChecked.Load())
	fmt.Fprintf(&b, "filters_loaded_total:%d\r\n", m.FiltersLoaded.Load())
	fmt.Fprintf(&b, "filters_saved_total:%d\r\n", m.FiltersSaved.Load())

	b.WriteString("# Persistence\r\n")
	fmt.Fprintf(&b, "aof_enabled:%d\r\n", boolToInt(app.aof != nil))
	fmt.Fprintf(&b, "aof_rewrite_in_progress:%d\r\n", boolToInt(app.isRewriting.Load()))
	fmt.Fprintf(&b, "aof_base_size:%d\r\n", app.aofBaseSize.Load())

	_ = app.writeBulkStringResponse(w, b.String())
}

// handleCompact handles COMPACT.
//
// The rewrite runs in the background and shares the isRewriting flag with
// the auto-rewrite in the maintenance loop, so at most one runs at a time.
// The client only learns that it started; the outcome goes to the log.
func (app *application) handleCompact(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "COMPACT")
		return
	}
	if app.aof == nil {
		_ = app.writeErrorResponse(w, "ERR persistence is disabled, nothing to compact")
		return
	}
	if !app.isRewriting.CompareAndSwap(false, true) {
		_ = app.writeErrorResponse(w, "ERR Background append only file rewriting already in progress")
		return
	}

	go func() {
		defer app.isRewriting.Store(false)

		app.logger.Info("user requested background AOF rewrite started")
		if err := app.CompactAOF(); err != nil {
			app.logger.Error("background rewrite failed", "error", err)
			return
		}
		app.logger.Info("background AOF rewrite finished successfully")
	}()

	_ = app.writeSimpleStringResponse(w, "Background append only file rewriting started")
}

// handleDel handles DEL key [key ...]. Replies with the number of keys
// removed. Each removed key is journaled as its own DEL.
func (app *application) handleDel(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	deleted := 0
	for _, key := range args {
		if app.store.Delete(key, func() { app.logCommand("DEL", []string{key}) }) {
			deleted++
		}
	}

	_ = app.writeIntegerResponse(w, deleted)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
