// Package app provides the application service layer.
//
// Service is the entry point for the HTTP boundary. SessionManager owns the
// bot login state machine and the live-session registry; each live session
// feeds a LinkWatcher which hands detected vouchers to the ClaimPipeline.
// Reconciler enforces key and session expiry in the background. Everything
// depends on domain interfaces, not concrete adapters.
package app
