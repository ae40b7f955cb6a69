// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (source.go, snapshot.go, feed.go, errors.go) hold the shared types
// and the transport boundary. No implementation code beyond value helpers.
package domain
