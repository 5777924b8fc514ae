// persistence.go loads the journal at startup, logs write commands while
// serving, and compacts the journal on demand.
//
// The journal is hybrid: an optional PPY1 binary snapshot followed by a tail
// of RESP-encoded write commands.
//
//	+-----------------------+---------------------------+
//	| Binary Preamble       | Text Tail                 |
//	| (PPY1 Snapshot)       | (RESP Commands)           |
//	+-----------------------+---------------------------+
//
// Startup restores the preamble in one pass and replays only the commands
// that arrived after the last compaction. Compaction writes a fresh snapshot
// to a temporary file and renames it over the journal, so a crash at any
// point leaves either the old journal or the new one on disk.
//
// Commands are logged in a form that replays deterministically. A BF.ADD that
// created its filter is preceded by the BF.RESERVE that pins the parameters
// in force at the time, and BF.LOAD is logged as BF.LOADCHUNK carrying the
// record itself so that replay does not depend on the file still existing.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// logCommand appends a write command to the journal. Failures are logged and
// swallowed: the in-memory mutation already happened and the client has its
// answer.
func (app *application) logCommand(command string, args []string) {
	if app.aof == nil {
		return
	}

	data := encodeCommand(command, args)
	if err := app.aof.Write(data); err != nil {
		app.logger.Error("CRITICAL: failed to append to AOF", "error", err, "command", command)
	}
}

// loadAOF restores the registry from the journal. Handles pure-text journals,
// hybrid journals and a missing file.
func (app *application) loadAOF() error {
	//
	// DESIGN
	// ------
	//
	// The first four bytes decide the format. For "PPY1" the snapshot loader
	// consumes exactly the binary section; because it reads through the same
	// *bufio.Reader, anything it buffered but did not consume is still there
	// for the RESP parser that replays the tail.
	//
	f, err := os.Open(app.config.aofFilename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)

	magic, _ := reader.Peek(len(persistenceMagic))
	if string(magic) == persistenceMagic {
		app.logger.Info("loading hybrid AOF preamble...")
		if err := app.store.LoadSnapshotFromReader(reader); err != nil {
			return fmt.Errorf("corrupt hybrid preamble: %w", err)
		}
	}

	parser := NewParser(reader)
	replayed := 0
	for {
		parts, err := parser.Parse()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A half-written last command is what a crash mid-append leaves
			// behind. Anything else is real corruption.
			if err == io.ErrUnexpectedEOF {
				if app.config.aofLoadTruncated {
					app.logger.Warn("AOF truncated at end - ignoring partial last command (this is normal after a crash)")
					app.needsCompaction = true
					return nil
				}
				return errors.New("AOF truncated (run with -aof-load-truncated=true to auto-recover, or use poppy-check to inspect)")
			}
			return err
		}

		app.router.Dispatch(app, io.Discard, parts)
		replayed++
	}

	app.logger.Info("AOF loaded", "filters", app.store.Len(), "replayed_commands", replayed)
	return nil
}

// CompactAOF replaces the journal with a fresh snapshot of the registry.
func (app *application) CompactAOF() error {
	//
	// DESIGN
	// ------
	//
	// Phase 1 streams the snapshot to a temporary file without holding the
	// journal lock. Commands keep being appended to the old journal and are
	// also mirrored into the rewrite buffer, because a command that touches
	// a shard after that shard was copied would otherwise be lost.
	//
	// Phase 2 takes the journal lock, flushes and closes the old file,
	// renames the temporary file over it, reopens it for appending and
	// appends the rewrite buffer. Replaying a mirrored command that the
	// snapshot already reflects is harmless: adds are idempotent and DEL,
	// BF.RESERVE and BF.LOADCHUNK replay in their original order.
	//
	// The fileClosed and renameSuccess flags tell the deferred cleanup which
	// resources are still ours to release.
	//
	tmpName := app.config.aofFilename + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return err
	}

	var (
		fileClosed    bool
		renameSuccess bool
	)
	defer func() {
		if !fileClosed {
			_ = f.Close()
		}
		if !renameSuccess {
			_ = os.Remove(tmpName)
			app.aof.abortRewrite()
		}
	}()

	app.aof.beginRewrite()

	bw := bufio.NewWriter(f)
	if err := app.store.SaveSnapshotToWriter(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fileClosed = true

	app.aof.mu.Lock()
	defer app.aof.mu.Unlock()

	if err := app.aof.writer.Flush(); err != nil {
		app.logger.Error("warning: failed to flush old AOF before rewrite", "error", err)
	}
	_ = app.aof.file.Close()

	if err := os.Rename(tmpName, app.config.aofFilename); err != nil {
		return err
	}
	renameSuccess = true

	newFile, err := os.OpenFile(app.config.aofFilename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		app.aof.rewriteBuf = nil
		return err
	}
	app.aof.file = newFile
	app.aof.writer.Reset(newFile)

	if app.aof.rewriteBuf != nil {
		_, _ = app.aof.rewriteBuf.WriteTo(app.aof.writer)
		app.aof.rewriteBuf = nil
	}
	if err := app.aof.writer.Flush(); err != nil {
		return err
	}

	if stat, err := newFile.Stat(); err == nil {
		app.aofBaseSize.Store(stat.Size())
	}
	return nil
}
