// Package configs embeds the configuration template shipped with the
// trailblazer binary.
//
// The template is embedded at build time with go:embed so it is available
// in every distribution, source builds included. `trailblazer config init`
// writes it next to the workroot as a starting point; internal/config
// applies the same defaults when no file exists at all.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `trailblazer config init`.
//
//go:embed trailblazer.example.yaml
var ConfigTemplate string
