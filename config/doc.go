// Package config loads memex settings from <root>/config.toml.
//
// Every setting has a default, so the file is optional. The root itself
// comes from the --root flag, then $MEMEX_ROOT, then ~/.memex.
package config
