package router

import "fmt"

// ErrNoProviderAvailable is fatal: no registered provider can serve the
// request (spec §7 NoProviderAvailable).
type ErrNoProviderAvailable struct {
	Model string
}

func (e *ErrNoProviderAvailable) Error() string {
	return fmt.Sprintf("no provider available to serve model %q; check credentials and provider registration", e.Model)
}

// ErrAllProvidersFailed is fatal: every candidate provider (primary plus
// fallback chain) failed (spec §7 AllProvidersFailed).
type ErrAllProvidersFailed struct {
	Attempted []string
	Last      error
}

func (e *ErrAllProvidersFailed) Error() string {
	return fmt.Sprintf("all providers failed (%v); last error: %v", e.Attempted, e.Last)
}

func (e *ErrAllProvidersFailed) Unwrap() error { return e.Last }
