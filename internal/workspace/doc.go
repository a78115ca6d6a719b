// Package workspace describes the on-disk layout wits works in.
//
// A Context is built once per run and handed to every component; nothing
// reads the tool location from global state.
package workspace
