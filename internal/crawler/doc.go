// Package crawler defines the core vocabulary shared by the frontier, the
// render backends, and the fetch-extract-discover worker: frontier statuses
// and their transition graph, the rendered page contract, the classified
// fetch error, and the small interfaces each subsystem is wired through.
package crawler
