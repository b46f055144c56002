// Package catalog exposes a filesystem tree of tool servers for progressive
// disclosure.
//
// The catalog root holds one directory per server. A directory is a server
// only when it contains the marker file server.yaml; every other .go file
// directly inside it is one tool unit, and the unit's leading comment block is
// the tool's description:
//
//	<root>/
//	  weather/
//	    server.yaml
//	    get_current_weather.go
//	    get_forecast.go
//
// Nothing is cached. Every call rescans the filesystem, so a server added while
// the process runs shows up on the next [Catalog.ListServers] call. Names
// starting with "_" or "." are hidden.
//
// Reads of tool sources go through the same containment check the workspace
// gate uses, applied to the catalog root: a resolved path outside the root
// fails with [ErrToolDiscovery].
package catalog
