package main

// commands creates a new router and registers all the application's command handlers.
// This is the single source of truth for what commands the tool supports.
func (app *application) commands() *Router {
	router := NewRouter()

	// Building sketches
	router.Handle("add", app.handleAdd)
	router.Handle("merge", app.handleMerge)

	// Queries
	router.Handle("count", app.handleCount)
	router.Handle("compare", app.handleCompare)

	// Diagnostics
	router.Handle("inspect", app.handleInspect)

	return router
}
