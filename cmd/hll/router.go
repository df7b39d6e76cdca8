package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

var (
	errUsage          = errors.New("usage")
	errUnknownCommand = errors.New("unknown command")
)

// CommandHandler runs one subcommand. args excludes the command name;
// results are written to w.
type CommandHandler func(w io.Writer, args []string) error

// Router holds the mapping of command names to their handlers.
type Router struct {
	handlers map[string]CommandHandler
}

// NewRouter creates a new, empty router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]CommandHandler),
	}
}

// Handle registers a new command handler.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToLower(name)] = handler
}

// Commands returns the registered command names in sorted order.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch finds the handler for a given command and executes it.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: missing command, one of %s", errUsage, strings.Join(r.Commands(), ", "))
	}

	app.metrics.TotalCommands.Add(1)

	commandName := strings.ToLower(parts[0])
	handler, found := r.handlers[commandName]
	if !found {
		return fmt.Errorf("%w '%s'", errUnknownCommand, commandName)
	}

	return handler(w, parts[1:])
}
