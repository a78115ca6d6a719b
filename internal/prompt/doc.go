// Package prompt asks the user for the run answers and resolves ambiguous
// device selections interactively.
package prompt
