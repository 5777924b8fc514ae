// handlers_bloom.go implements the filter commands.
//
// Concurrency Strategy
// ====================
// - BF.RESERVE, BF.ADD, BF.MADD: Store.Reserve / Store.Update. The insert
//   and its journal entry happen under the shard lock.
// - BF.EXISTS, BF.MEXISTS, BF.CARD, BF.INFO: Store.Get hands out a retained
//   handle; the filter's own mutex serializes the call.
//
// Journal Form
// ============
// A BF.ADD or BF.MADD that creates its key is journaled as a BF.RESERVE
// with explicit parameters followed by the add, so replay does not depend on
// the server flags in force at replay time.

package main

import (
	"io"
	"math"
	"strconv"
	"strings"

	"poppy.lopezb.com/internal/bloom"
)

// handleBFReserve handles BF.RESERVE.
// Syntax: BF.RESERVE key error_rate capacity [VERSION v] [SCALABLE|CLASSIC]
func (app *application) handleBFReserve(w io.Writer, args []string) {
	if len(args) < 3 {
		app.wrongNumberOfArgsResponse(w, "BF.RESERVE")
		return
	}

	key := args[0]

	fpp, err := strconv.ParseFloat(args[1], 64)
	if err != nil || !(fpp > 0 && fpp < 1) {
		_ = app.writeErrorResponse(w, "ERR bad error rate")
		return
	}
	capacity, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil || capacity == 0 {
		_ = app.writeErrorResponse(w, "ERR bad capacity")
		return
	}

	p := app.defaultParams()
	p.FPP = fpp
	p.Capacity = capacity

	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "VERSION":
			if i+1 >= len(args) {
				app.syntaxErrorResponse(w)
				return
			}
			i++
			v, err := strconv.ParseUint(args[i], 10, 8)
			if err != nil {
				_ = app.writeErrorResponse(w, "ERR unsupported version")
				return
			}
			p.Version = bloom.Version(v)
		case "SCALABLE":
			p.Variant = bloom.Scalable
		case "CLASSIC":
			p.Variant = bloom.Classic
		default:
			app.syntaxErrorResponse(w)
			return
		}
	}

	err = app.store.Reserve(key, p, func() {
		app.logCommand("BF.RESERVE", reserveArgs(key, p))
	})
	if err != nil {
		app.filterErrorResponse(w, err)
		return
	}

	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleBFAdd handles BF.ADD.
// Syntax: BF.ADD key item
//
// Replies 1 if the item was added, 0 if the filter already reported it
// present.
func (app *application) handleBFAdd(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.ADD")
		return
	}

	key, item := args[0], args[1]
	p := app.defaultParams()

	var added bool
	err := app.store.Update(key, p, func(h *bloom.Shared, created bool) {
		if created {
			app.logCommand("BF.RESERVE", reserveArgs(key, p))
		}
		added = h.Insert([]byte(item))
		if added {
			app.logCommand("BF.ADD", args)
		}
	})
	if err != nil {
		app.filterErrorResponse(w, err)
		return
	}

	if added {
		app.metrics.ItemsAdded.Add(1)
		_ = app.writeIntegerResponse(w, 1)
		return
	}
	_ = app.writeIntegerResponse(w, 0)
}

// handleBFMAdd handles BF.MADD.
// Syntax: BF.MADD key item [item ...]
//
// Replies with one integer per item, as BF.ADD would. All items go in under
// a single acquisition of the filter lock. Only the items that changed the
// filter are journaled.
func (app *application) handleBFMAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MADD")
		return
	}

	key := args[0]
	items := make([][]byte, len(args)-1)
	for i, s := range args[1:] {
		items[i] = []byte(s)
	}
	p := app.defaultParams()

	results := make([]int, len(items))
	added := 0
	err := app.store.Update(key, p, func(h *bloom.Shared, created bool) {
		if created {
			app.logCommand("BF.RESERVE", reserveArgs(key, p))
		}

		logged := []string{key}
		for i, ok := range h.InsertMany(items) {
			if ok {
				results[i] = 1
				logged = append(logged, args[i+1])
			}
		}
		added = len(logged) - 1
		if added > 0 {
			app.logCommand("BF.MADD", logged)
		}
	})
	if err != nil {
		app.filterErrorResponse(w, err)
		return
	}

	app.metrics.ItemsAdded.Add(uint64(added))
	_ = app.writeIntegerArrayResponse(w, results)
}

// handleBFExists handles BF.EXISTS.
// Syntax: BF.EXISTS key item
//
// Replies 1 if the item may be present, 0 if it is definitely absent or the
// key does not exist.
func (app *application) handleBFExists(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.EXISTS")
		return
	}

	app.metrics.ItemsChecked.Add(1)

	h, ok := app.store.Get(args[0])
	if !ok {
		_ = app.writeIntegerResponse(w, 0)
		return
	}
	defer h.Release()

	if h.Contains([]byte(args[1])) {
		_ = app.writeIntegerResponse(w, 1)
		return
	}
	_ = app.writeIntegerResponse(w, 0)
}

// handleBFMExists handles BF.MEXISTS.
// Syntax: BF.MEXISTS key item [item ...]
func (app *application) handleBFMExists(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MEXISTS")
		return
	}

	app.metrics.ItemsChecked.Add(uint64(len(args) - 1))
	results := make([]int, len(args)-1)

	h, ok := app.store.Get(args[0])
	if !ok {
		_ = app.writeIntegerArrayResponse(w, results)
		return
	}
	defer h.Release()

	items := make([][]byte, len(results))
	for i, s := range args[1:] {
		items[i] = []byte(s)
	}
	for i, found := range h.ContainsMany(items) {
		if found {
			results[i] = 1
		}
	}
	_ = app.writeIntegerArrayResponse(w, results)
}

// handleBFCard handles BF.CARD.
// Syntax: BF.CARD key
//
// Replies with the estimated number of distinct items, 0 for a missing key.
func (app *application) handleBFCard(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.CARD")
		return
	}

	h, ok := app.store.Get(args[0])
	if !ok {
		_ = app.writeIntegerResponse(w, 0)
		return
	}
	defer h.Release()

	_ = app.writeIntegerResponse64(w, clampInt64(h.CountEstimate()))
}

// handleBFInfo handles BF.INFO.
// Syntax: BF.INFO key
func (app *application) handleBFInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.INFO")
		return
	}

	h, ok := app.store.Get(args[0])
	if !ok {
		_ = app.writeErrorResponse(w, "ERR not found")
		return
	}
	info := h.Info()
	h.Release()

	fields := []infoField{
		{name: "Capacity", num: clampInt64(info.Capacity)},
		{name: "Error rate", isStr: true, str: strconv.FormatFloat(info.FPP, 'g', -1, 64)},
		{name: "Version", num: int64(info.Version)},
		{name: "Variant", isStr: true, str: info.Variant.String()},
		{name: "Sub-filters", num: int64(len(info.Layers))},
		{name: "Size", num: clampInt64((info.SizeBits + 7) / 8)},
		{name: "Items inserted", num: clampInt64(info.Inserted)},
		{name: "Estimated items", num: clampInt64(info.Estimate)},
	}
	_ = app.writeFieldsResponse(w, fields)
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
