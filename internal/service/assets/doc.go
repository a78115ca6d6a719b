// Package assets downloads and unpacks the prebuilt container, tools and
// resource bundles into the tool base directory.
package assets
