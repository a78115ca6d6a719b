// Package manifest turns the host application's config.xml into the
// container manifest.
//
// The transform derives the container identity (host id plus the WITs
// suffix), replaces the access policy, content entry and icon with the fixed
// debugging shell values, and makes sure the filesystem privileges are
// declared. Running it again on its own output changes nothing.
package manifest
