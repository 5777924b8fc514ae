package main

// commands builds the router with every command the server supports.
func (app *application) commands() *Router {
	router := NewRouter()

	// Generic
	router.Handle("PING", app.handlePing)
	router.Handle("INFO", app.handleInfo)
	router.Handle("DEL", app.handleDel)
	router.Handle("MEMORY", app.handleMemory)
	router.Handle("COMPACT", app.handleCompact)

	// Bloom filters
	router.Handle("BF.RESERVE", app.handleBFReserve)
	router.Handle("BF.ADD", app.handleBFAdd)
	router.Handle("BF.MADD", app.handleBFMAdd)
	router.Handle("BF.EXISTS", app.handleBFExists)
	router.Handle("BF.MEXISTS", app.handleBFMExists)
	router.Handle("BF.CARD", app.handleBFCard)
	router.Handle("BF.INFO", app.handleBFInfo)

	// Record transfer
	router.Handle("BF.DUMP", app.handleBFDump)
	router.Handle("BF.LOADCHUNK", app.handleBFLoadChunk)
	router.Handle("BF.SAVE", app.handleBFSave)
	router.Handle("BF.LOAD", app.handleBFLoad)

	return router
}
