// Package device talks to the bridge tool to connect to a TV, establish
// trust with its developer certificate and resolve the target device.
package device
