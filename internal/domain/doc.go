// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (tenant.go, amount.go, transport.go, claim.go, ...)
// hold shared types, invariants and the ports implemented by adapters. No
// I/O lives here. Interfaces sit on this side so app and adapters never
// import each other.
package domain
