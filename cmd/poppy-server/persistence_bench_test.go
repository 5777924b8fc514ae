package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"poppy.lopezb.com/internal/bloom"
)

// =============================================================================
// Store Snapshot Benchmarks
// =============================================================================

// benchStore fills a store with size filters of capacity items each, half
// of them scalable.
func benchStore(b *testing.B, size int, capacity uint64) *Store {
	b.Helper()
	store := NewStore()
	for i := 0; i < size; i++ {
		key := fmt.Sprintf("key-%d", i)
		p := bloom.Params{Capacity: capacity, FPP: 0.01, Version: bloom.V2, Variant: bloom.Variant(i % 2)}
		err := store.Update(key, p, func(h *bloom.Shared, _ bool) {
			for j := 0; j < 10; j++ {
				h.Insert([]byte(fmt.Sprintf("%s-%d", key, j)))
			}
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	return store
}

// BenchmarkSnapshotSave measures the time to serialize the entire store.
// This is phase 1 of CompactAOF.
func BenchmarkSnapshotSave(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("keys_%d", size), func(b *testing.B) {
			store := benchStore(b, size, 100)

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				var buf bytes.Buffer
				if err := store.SaveSnapshotToWriter(&buf); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSnapshotLoad measures the time to restore state from a snapshot.
func BenchmarkSnapshotLoad(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("keys_%d", size), func(b *testing.B) {
			store := benchStore(b, size, 100)
			var buf bytes.Buffer
			if err := store.SaveSnapshotToWriter(&buf); err != nil {
				b.Fatal(err)
			}
			snapshotData := buf.Bytes()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				newStore := NewStore()
				if err := newStore.LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(snapshotData))); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSnapshotCompression compares large filters with and without
// zstd compression of their records.
func BenchmarkSnapshotCompression(b *testing.B) {
	for _, threshold := range []int{0, defaultCompressMin} {
		name := "plain"
		if threshold > 0 {
			name = "zstd"
		}
		b.Run(name, func(b *testing.B) {
			store := benchStore(b, 100, 100000)
			store.compressMin = threshold

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := store.SaveSnapshotToWriter(io.Discard); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// =============================================================================
// AOF Benchmarks
// =============================================================================

// BenchmarkAOFWrite measures the throughput of appending commands to the AOF.
// This is called on every write command.
func BenchmarkAOFWrite(b *testing.B) {
	aof, err := NewAOF(filepath.Join(b.TempDir(), "bench.aof"))
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = aof.Close() }()

	cmd := encodeCommand("BF.ADD", []string{"mykey", "value1"})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := aof.Write(cmd); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeCommand(b *testing.B) {
	args := []string{"mykey", "value1", "value2", "value3"}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = encodeCommand("BF.MADD", args)
	}
}

// =============================================================================
// Compaction and Loading Benchmarks
// =============================================================================

// BenchmarkCompactAOF measures the full rewrite including the rename.
func BenchmarkCompactAOF(b *testing.B) {
	for _, size := range []int{100, 1000} {
		b.Run(fmt.Sprintf("keys_%d", size), func(b *testing.B) {
			app := newBenchApp()
			app.store = benchStore(b, size, 100)
			app.config.aofFilename = filepath.Join(b.TempDir(), "compact.aof")

			var err error
			if app.aof, err = NewAOF(app.config.aofFilename); err != nil {
				b.Fatal(err)
			}
			defer func() { _ = app.aof.Close() }()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := app.CompactAOF(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkLoadAOFText measures replay of a journal that was never
// compacted, the worst-case startup.
func BenchmarkLoadAOFText(b *testing.B) {
	filename := filepath.Join(b.TempDir(), "text.aof")
	f, err := os.Create(filename)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key%03d", i%100)
		_, _ = f.Write(encodeCommand("BF.ADD", []string{key, fmt.Sprintf("val%04d", i)}))
	}
	_ = f.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		app := newBenchApp()
		app.config.aofFilename = filename
		if err := app.loadAOF(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLoadAOFHybrid measures loading a freshly compacted journal.
func BenchmarkLoadAOFHybrid(b *testing.B) {
	filename := filepath.Join(b.TempDir(), "hybrid.aof")
	store := benchStore(b, 10000, 100)
	f, err := os.Create(filename)
	if err != nil {
		b.Fatal(err)
	}
	_ = store.SaveSnapshotToWriter(f)
	_ = f.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		app := newBenchApp()
		app.config.aofFilename = filename
		if err := app.loadAOF(); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Store Operations Benchmarks
// =============================================================================

func BenchmarkStoreGet(b *testing.B) {
	store := benchStore(b, 10000, 100)
	keys := make([]string, 10000)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if h, ok := store.Get(keys[i%len(keys)]); ok {
			h.Release()
		}
	}
}

// BenchmarkStoreUpdate measures the locked insert path used by BF.ADD.
func BenchmarkStoreUpdate(b *testing.B) {
	store := NewStore()
	p := bloom.Params{Capacity: 100000, FPP: 0.01, Version: bloom.V2, Variant: bloom.Scalable}
	item := []byte("item")

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = store.Update("counter", p, func(h *bloom.Shared, _ bool) {
			h.Insert(item)
		})
	}
}

// newBenchApp creates a minimal application for benchmark use.
func newBenchApp() *application {
	cfg := config{
		bfCapacity:       bloom.DefaultCapacity,
		bfErrorRate:      bloom.DefaultErrorRate,
		bfVersion:        int(bloom.DefaultVersion),
		bfScalable:       true,
		aofLoadTruncated: true,
	}
	return newApplication(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}
