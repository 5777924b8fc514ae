package main

import "sync/atomic"

// Metrics holds the server counters reported by INFO.
type Metrics struct {
	TotalConnections atomic.Uint64
	TotalCommands    atomic.Uint64

	ItemsAdded    atomic.Uint64 // BF.ADD/BF.MADD items that changed a filter
	ItemsChecked  atomic.Uint64 // BF.EXISTS/BF.MEXISTS items tested
	FiltersLoaded atomic.Uint64 // BF.LOAD and BF.LOADCHUNK
	FiltersSaved  atomic.Uint64 // BF.SAVE
}

func NewMetrics() *Metrics {
	return &Metrics{}
}
