// Package config loads the two configuration files wits works with.
//
// Settings (wits-settings.yaml) configure the tool itself: bridge tool path,
// connect port, signer and asset sources. They are optional, validated and
// filled with defaults, and may be overridden from the environment or a .env
// file.
//
// ProjectConfig (.witsconfig.json) stores the answers of the previous run in
// the user's project and seeds the next prompt.
package config
