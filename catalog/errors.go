package catalog

import "errors"

// Sentinel errors for catalog lookups. Lookups never degrade a miss into an
// empty result, so callers can tell "no such tool" from "nothing matched".
var (
	// ErrServerNotFound indicates the server directory does not exist.
	ErrServerNotFound = errors.New("server not found")

	// ErrToolNotFound indicates the tool unit does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolDiscovery indicates a containment violation or a filesystem
	// anomaly while reading catalog files.
	ErrToolDiscovery = errors.New("tool discovery error")
)
