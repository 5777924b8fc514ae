// main.go is the entry point of poppy-server, a RESP server that keeps named
// bloom filters in memory and journals every change.
//
// Startup
// =======
//
// The registry is filled from the journal before the listener opens, so
// nothing else can touch it while loadAOF runs. Only then is the journal
// reopened for appending and the first client accepted.
//
// Durability
// ==========
//
// Appends are buffered and fsynced once a second by the maintenance loop.
// A power failure loses at most the last second of writes.
//
// Maintenance
// ===========
//
// The same loop watches the journal size and starts a background rewrite
// once it is at least -aof-min-size bytes and has grown by
// -aof-rewrite-percent over the size left by the previous rewrite. With the
// defaults (64MB, 100%) a journal is rewritten each time it doubles.
//
// On exit the journal is compacted one last time, best effort, to shorten
// the next startup.

package main

import (
	"flag"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"poppy.lopezb.com/internal/bloom"
)

type config struct {
	port            int
	maxConnections  int
	shutdownTimeout time.Duration
	idleTimeout     time.Duration

	bfCapacity  uint64
	bfErrorRate float64
	bfVersion   int
	bfScalable  bool

	persistence         bool
	aofFilename         string
	aofMinSize          int64
	aofRewritePercent   int
	aofLoadTruncated    bool
	snapshotCompressMin int

	dataDir string
}

type application struct {
	config          config
	logger          *slog.Logger
	listener        net.Listener
	store           *Store
	router          *Router
	metrics         *Metrics
	readyCh         chan struct{}
	wg              sync.WaitGroup
	connLimiter     chan struct{}
	aof             *AOF
	aofBaseSize     atomic.Int64
	isRewriting     atomic.Bool
	needsCompaction bool
}

func main() {
	var cfg config

	flag.IntVar(&cfg.port, "port", 6479, "TCP server port")
	flag.IntVar(&cfg.maxConnections, "max-conn", 100, "Maximum concurrent connections")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Idle client connection timeout (0 for no timeout)")
	flag.Uint64Var(&cfg.bfCapacity, "bf-capacity", bloom.DefaultCapacity, "Capacity of filters created by BF.ADD/BF.MADD")
	flag.Float64Var(&cfg.bfErrorRate, "bf-error-rate", bloom.DefaultErrorRate, "Target false positive rate of filters created by BF.ADD/BF.MADD")
	flag.IntVar(&cfg.bfVersion, "bf-version", int(bloom.DefaultVersion), "Hashing version of new filters (1 or 2)")
	flag.BoolVar(&cfg.bfScalable, "bf-scalable", true, "Create scalable filters by default (false for classic)")
	flag.BoolVar(&cfg.persistence, "persistence", true, "Enable AOF persistence (set false for in-memory only mode)")
	flag.StringVar(&cfg.aofFilename, "aof", "journal.aof", "Append Only File path")
	flag.Int64Var(&cfg.aofMinSize, "aof-min-size", 64*1024*1024, "Min size (bytes) to trigger AOF rewrite")
	flag.IntVar(&cfg.aofRewritePercent, "aof-rewrite-percent", 100, "Percentage growth to trigger AOF rewrite")
	flag.BoolVar(&cfg.aofLoadTruncated, "aof-load-truncated", true, "Auto-recover from truncated AOF (set false for strict mode)")
	flag.IntVar(&cfg.snapshotCompressMin, "snapshot-compress-min", defaultCompressMin, "Record size (bytes) from which snapshots zstd-compress a filter (0 disables)")
	flag.StringVar(&cfg.dataDir, "data-dir", "data", "Directory for BF.SAVE and BF.LOAD files")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	app := newApplication(cfg, logger)

	if err := app.defaultParams().Validate(); err != nil {
		logger.Error("invalid default filter parameters", "error", err)
		os.Exit(1)
	}

	if cfg.persistence {
		if err := app.loadAOF(); err != nil {
			logger.Error("failed to load AOF", "error", err)
			os.Exit(1)
		}

		aof, err := NewAOF(cfg.aofFilename)
		if err != nil {
			logger.Error("failed to open AOF", "error", err)
			os.Exit(1)
		}
		app.aof = aof

		if size, err := aof.Size(); err == nil {
			app.aofBaseSize.Store(size)
		}

		// A truncated tail was skipped during load; a rewrite replaces it
		// with a clean snapshot.
		if app.needsCompaction {
			logger.Info("AOF was truncated on load, compacting to heal the file")
			if err := app.CompactAOF(); err != nil {
				logger.Error("failed to compact AOF after truncation recovery", "error", err)
			} else {
				logger.Info("AOF healed successfully")
			}
		}
	} else {
		logger.Info("persistence disabled, running in memory-only mode")
	}

	go app.maintenance()

	defer func() {
		if app.aof == nil {
			logger.Info("shutting down")
			return
		}
		logger.Info("shutting down, compacting AOF")
		if err := app.CompactAOF(); err != nil {
			logger.Error("failed to compact AOF on exit", "error", err)
		}
		_ = app.aof.Close()
	}()

	if err := app.serve(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func newApplication(cfg config, logger *slog.Logger) *application {
	app := &application{
		config:      cfg,
		logger:      logger,
		store:       NewStore(),
		metrics:     NewMetrics(),
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}
	app.store.compressMin = cfg.snapshotCompressMin
	app.router = app.commands()
	return app
}

// maintenance fsyncs the journal every second and starts a rewrite when the
// growth policy says so. It never returns.
func (app *application) maintenance() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if app.aof == nil {
			continue
		}

		if err := app.aof.Fsync(); err != nil {
			app.logger.Error("background sync failed", "error", err)
		}

		current, err := app.aof.Size()
		if err != nil || current < app.config.aofMinSize {
			continue
		}

		base := app.aofBaseSize.Load()
		target := base + base*int64(app.config.aofRewritePercent)/100
		if current <= target {
			continue
		}

		if !app.isRewriting.CompareAndSwap(false, true) {
			continue
		}
		app.logger.Info("auto-rewrite triggered",
			"current_bytes", current,
			"base_bytes", base,
			"threshold_percent", app.config.aofRewritePercent)

		// Off the ticker goroutine so fsyncs keep their pace.
		go func() {
			defer app.isRewriting.Store(false)

			start := time.Now()
			if err := app.CompactAOF(); err != nil {
				app.logger.Error("auto-rewrite failed", "error", err)
				return
			}
			app.logger.Info("auto-rewrite completed", "duration", time.Since(start))
		}()
	}
}
