// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (credential.go, session.go, stream.go, event.go, errors.go)
// hold the shared types and the collaborator interfaces. No implementation code, only
// contracts, so the auth, poller and notify packages never import each other.
package domain
