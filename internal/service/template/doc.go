// Package template renders the container's bootstrap script and host
// document by resolving {{NAME}} placeholders.
package template
