// Package config loads and saves the flexgate server configuration.
//
// The configuration is a YAML file. Every field has a default, so a missing
// file or a partial file is valid:
//
//	version: 1
//	server:
//	  port: 8080
//	  doc_root: /srv/www
//	  idle_timeout: 5s
//	websocket:
//	  mode: broadcast
//	  ping_interval: 30s
//	metrics:
//	  addr: 127.0.0.1:9100
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/flexgate/config.yaml or $HOME/.config/flexgate/config.yaml
//   - macOS: $HOME/.config/flexgate/config.yaml
//   - Windows: %LOCALAPPDATA%\flexgate\config.yaml
//
// Durations are written as Go duration strings. Save writes atomically via a
// temporary file and rename. Watch reports changes to a file on disk.
package config
