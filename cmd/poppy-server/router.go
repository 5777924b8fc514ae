package main

import (
	"io"
	"strings"
)

// CommandHandler writes its reply to w, usually the connection's buffered
// writer, or io.Discard during journal replay.
type CommandHandler func(w io.Writer, args []string)

// Router maps upper-cased command names to handlers.
type Router struct {
	handlers map[string]CommandHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]CommandHandler)}
}

// Handle registers handler under name. Names are case-insensitive.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Dispatch runs the handler for parts[0] with the remaining parts as
// arguments.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}

	app.metrics.TotalCommands.Add(1)

	name := strings.ToUpper(parts[0])
	handler, ok := r.handlers[name]
	if !ok {
		app.unknownCommandResponse(w, name)
		return
	}
	handler(w, parts[1:])
}
