// Package templates embeds the default configuration written by cistatsd setup.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS
