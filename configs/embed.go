// Package configs embeds configuration templates so every build, source or
// binary, can write them.
//
// The user template is written by 'watchsync config init'. Keep its values
// in line with config.NewConfig.
package configs

import _ "embed"

// UserConfigTemplate is the commented user configuration written to
// ~/.config/watchsync/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
