// Package packager assembles the signed container workspace into the
// installable package and publishes it to the output directory.
//
// A build owns the container for its whole duration through a marker file
// holding the owner PID. The output directory is only touched by the final
// atomic publish, so a failed build never leaves a partial package behind.
package packager
