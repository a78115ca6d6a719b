// Package session persists the last resolved device so build can run
// without reconnecting.
//
// The FileRepository stores records as protobuf JSON (a structpb.Struct)
// on disk.
package session
