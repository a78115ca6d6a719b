// Package launcher wires the wits workflows: init prepares the project and
// the prebuilt assets, connect resolves the device, build packages the
// debugging shell and start runs them all in order.
//
// Collaborators that talk to the outside world (bridge tool, signer, device
// chooser, answers prompt) are built from the settings unless Options
// supplies them.
package launcher
