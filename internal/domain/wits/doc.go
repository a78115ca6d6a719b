// Package wits contains the core domain types shared by the build pipeline
// and the device session.
//
// It defines UserAnswers (what the user asked for), DeviceInfo (where the
// host application will run) and the error taxonomy every stage reports with.
package wits
