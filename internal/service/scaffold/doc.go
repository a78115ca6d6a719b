// Package scaffold prepares the per-project files wits keeps next to the
// user's application.
package scaffold
