package main

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"poppy.lopezb.com/internal/bloom"
)

// =============================================================================
// BF.RESERVE Tests
// =============================================================================

func TestBFReserve(t *testing.T) {
	app := newTestApp(t)

	t.Run("creates filter", func(t *testing.T) {
		if got := do(app, "BF.RESERVE", "r1", "0.01", "1000"); got != "+OK\r\n" {
			t.Fatalf("Expected +OK, got %q", got)
		}
		h, ok := app.store.Get("r1")
		if !ok {
			t.Fatal("Expected key to exist")
		}
		defer h.Release()
		if h.Capacity() != 1000 || h.FPP() != 0.01 {
			t.Errorf("Expected capacity 1000 fpp 0.01, got %d %v", h.Capacity(), h.FPP())
		}
		// Server default is scalable, version 2.
		if h.Variant() != bloom.Scalable || h.Version() != bloom.V2 {
			t.Errorf("Expected scalable V2, got %v %v", h.Variant(), h.Version())
		}
	})

	t.Run("options", func(t *testing.T) {
		if got := do(app, "BF.RESERVE", "r2", "0.001", "500", "version", "1", "CLASSIC"); got != "+OK\r\n" {
			t.Fatalf("Expected +OK, got %q", got)
		}
		h, _ := app.store.Get("r2")
		defer h.Release()
		if h.Variant() != bloom.Classic || h.Version() != bloom.V1 {
			t.Errorf("Expected classic V1, got %v %v", h.Variant(), h.Version())
		}
	})

	t.Run("existing key", func(t *testing.T) {
		if got := do(app, "BF.RESERVE", "r1", "0.01", "10"); got != "-ERR item exists\r\n" {
			t.Errorf("Expected item exists, got %q", got)
		}
	})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"fpp zero", []string{"x", "0", "100"}, "-ERR bad error rate\r\n"},
		{"fpp one", []string{"x", "1", "100"}, "-ERR bad error rate\r\n"},
		{"fpp not a number", []string{"x", "abc", "100"}, "-ERR bad error rate\r\n"},
		{"fpp NaN", []string{"x", "NaN", "100"}, "-ERR bad error rate\r\n"},
		{"capacity zero", []string{"x", "0.01", "0"}, "-ERR bad capacity\r\n"},
		{"capacity negative", []string{"x", "0.01", "-5"}, "-ERR bad capacity\r\n"},
		{"version 3", []string{"x", "0.01", "100", "VERSION", "3"}, "-ERR unsupported version\r\n"},
		{"version 0", []string{"x", "0.01", "100", "VERSION", "0"}, "-ERR unsupported version\r\n"},
		{"version garbage", []string{"x", "0.01", "100", "VERSION", "two"}, "-ERR unsupported version\r\n"},
		{"version missing", []string{"x", "0.01", "100", "VERSION"}, "-ERR syntax error\r\n"},
		{"unknown option", []string{"x", "0.01", "100", "FAST"}, "-ERR syntax error\r\n"},
		{"too few args", []string{"x", "0.01"}, "-ERR wrong number of arguments for 'BF.RESERVE' command\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := do(app, append([]string{"BF.RESERVE"}, tt.args...)...)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if app.store.Exists("x") {
		t.Error("Rejected BF.RESERVE left a key behind")
	}
}

// =============================================================================
// BF.ADD / BF.MADD Tests
// =============================================================================

func TestBFAdd(t *testing.T) {
	app := newTestApp(t)

	t.Run("basic add single element", func(t *testing.T) {
		if got := do(app, "BF.ADD", "bf1", "element1"); got != ":1\r\n" {
			t.Errorf("Expected :1, got %q", got)
		}
	})

	t.Run("add duplicate returns 0", func(t *testing.T) {
		do(app, "BF.ADD", "bf2", "dup")
		if got := do(app, "BF.ADD", "bf2", "dup"); got != ":0\r\n" {
			t.Errorf("Expected :0 for duplicate, got %q", got)
		}
	})

	t.Run("auto-create uses server defaults", func(t *testing.T) {
		h, ok := app.store.Get("bf1")
		if !ok {
			t.Fatal("Expected BF.ADD to create the key")
		}
		defer h.Release()
		if h.Capacity() != bloom.DefaultCapacity || h.Variant() != bloom.Scalable {
			t.Errorf("Expected default scalable filter, got capacity %d variant %v", h.Capacity(), h.Variant())
		}
	})

	t.Run("add to reserved classic filter", func(t *testing.T) {
		do(app, "BF.RESERVE", "bf3", "0.01", "100", "CLASSIC")
		if got := do(app, "BF.ADD", "bf3", "x"); got != ":1\r\n" {
			t.Errorf("Expected :1, got %q", got)
		}
		h, _ := app.store.Get("bf3")
		defer h.Release()
		if h.Variant() != bloom.Classic || h.Capacity() != 100 {
			t.Error("BF.ADD replaced the reserved filter")
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		for _, args := range [][]string{{"BF.ADD"}, {"BF.ADD", "keyonly"}, {"BF.ADD", "k", "a", "b"}} {
			if got := do(app, args...); got != "-ERR wrong number of arguments for 'BF.ADD' command\r\n" {
				t.Errorf("%v: expected wrong args error, got %q", args, got)
			}
		}
	})
}

func TestBFMAdd(t *testing.T) {
	app := newTestApp(t)

	do(app, "BF.ADD", "m", "b")
	got := do(app, "BF.MADD", "m", "a", "b", "c", "a")
	want := "*4\r\n:1\r\n:0\r\n:1\r\n:0\r\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if got := do(app, "BF.MADD", "m"); got != "-ERR wrong number of arguments for 'BF.MADD' command\r\n" {
		t.Errorf("unexpected reply %q", got)
	}
}

// =============================================================================
// BF.EXISTS / BF.MEXISTS Tests
// =============================================================================

func TestBFExists(t *testing.T) {
	app := newTestApp(t)
	do(app, "BF.ADD", "e", "item1")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"element exists", []string{"e", "item1"}, ":1\r\n"},
		{"element does not exist", []string{"e", "nonexistent_item"}, ":0\r\n"},
		{"missing key", []string{"nope", "item1"}, ":0\r\n"},
		{"wrong args", []string{"e"}, "-ERR wrong number of arguments for 'BF.EXISTS' command\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := do(app, append([]string{"BF.EXISTS"}, tt.args...)...); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if app.store.Exists("nope") {
		t.Error("BF.EXISTS must not create keys")
	}
}

func TestBFMExists(t *testing.T) {
	app := newTestApp(t)
	do(app, "BF.MADD", "me", "a", "c")

	if got := do(app, "BF.MEXISTS", "me", "a", "b-not-there", "c"); got != "*3\r\n:1\r\n:0\r\n:1\r\n" {
		t.Errorf("unexpected reply %q", got)
	}
	if got := do(app, "BF.MEXISTS", "missing", "a", "b"); got != "*2\r\n:0\r\n:0\r\n" {
		t.Errorf("Expected all zeros for missing key, got %q", got)
	}
}

// TestBFNoFalseNegatives pushes a scalable filter through several growth
// steps and checks every inserted item.
func TestBFNoFalseNegatives(t *testing.T) {
	app := newTestApp(t)
	do(app, "BF.RESERVE", "grow", "0.01", "100", "SCALABLE")

	const n = 2000
	for i := 0; i < n; i++ {
		do(app, "BF.ADD", "grow", fmt.Sprintf("item-%d", i))
	}
	for i := 0; i < n; i++ {
		if got := do(app, "BF.EXISTS", "grow", fmt.Sprintf("item-%d", i)); got != ":1\r\n" {
			t.Fatalf("False negative for item-%d", i)
		}
	}

	h, _ := app.store.Get("grow")
	defer h.Release()
	if h.Layers() < 2 {
		t.Errorf("Expected the filter to grow past one sub-filter, got %d", h.Layers())
	}
}

// =============================================================================
// BF.CARD / BF.INFO Tests
// =============================================================================

func TestBFCard(t *testing.T) {
	app := newTestApp(t)

	if got := do(app, "BF.CARD", "missing"); got != ":0\r\n" {
		t.Errorf("Expected :0 for missing key, got %q", got)
	}

	do(app, "BF.RESERVE", "c", "0.01", "1000", "CLASSIC")
	if got := do(app, "BF.CARD", "c"); got != ":0\r\n" {
		t.Errorf("Expected :0 for empty filter, got %q", got)
	}
	do(app, "BF.ADD", "c", "only")
	if got := do(app, "BF.CARD", "c"); got != ":1\r\n" {
		t.Errorf("Expected :1, got %q", got)
	}
}

func TestBFInfo(t *testing.T) {
	app := newTestApp(t)
	do(app, "BF.RESERVE", "i", "0.01", "1000", "VERSION", "2", "CLASSIC")

	want := "*16\r\n" +
		"$8\r\nCapacity\r\n:1000\r\n" +
		"$10\r\nError rate\r\n$4\r\n0.01\r\n" +
		"$7\r\nVersion\r\n:2\r\n" +
		"$7\r\nVariant\r\n$7\r\nclassic\r\n" +
		"$11\r\nSub-filters\r\n:1\r\n" +
		"$4\r\nSize\r\n:1199\r\n" +
		"$14\r\nItems inserted\r\n:0\r\n" +
		"$15\r\nEstimated items\r\n:0\r\n"
	if got := do(app, "BF.INFO", "i"); got != want {
		t.Errorf("Expected\n%q\ngot\n%q", want, got)
	}

	if got := do(app, "BF.INFO", "missing"); got != "-ERR not found\r\n" {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestMemoryUsage(t *testing.T) {
	app := newTestApp(t)
	do(app, "BF.RESERVE", "mem", "0.01", "1000", "CLASSIC")

	got := do(app, "MEMORY", "USAGE", "mem")
	var size int
	if _, err := fmt.Sscanf(got, ":%d\r\n", &size); err != nil {
		t.Fatalf("Expected integer reply, got %q", got)
	}
	// 9586 bits live in 150 words.
	if size < 1200 {
		t.Errorf("Expected at least the bit array size, got %d", size)
	}

	if got := do(app, "MEMORY", "USAGE", "missing"); got != "$-1\r\n" {
		t.Errorf("Expected nil for missing key, got %q", got)
	}
	if got := do(app, "MEMORY", "DOCTOR"); !strings.HasPrefix(got, "-ERR unknown subcommand 'DOCTOR'") {
		t.Errorf("unexpected reply %q", got)
	}
}

// TestBFConcurrentAdd hammers one auto-created key from many goroutines.
// Exactly one of them creates the filter and no insert is lost.
func TestBFConcurrentAdd(t *testing.T) {
	app := newTestApp(t)

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				do(app, "BF.ADD", "hot", fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			if got := do(app, "BF.EXISTS", "hot", fmt.Sprintf("w%d-%d", w, i)); got != ":1\r\n" {
				t.Fatalf("Lost insert w%d-%d", w, i)
			}
		}
	}
	if app.store.Len() != 1 {
		t.Errorf("Expected 1 key, got %d", app.store.Len())
	}
}
