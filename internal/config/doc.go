// Package config loads the extws server configuration from a YAML file.
//
// Config fields:
//   - Server.Addr            — listen address (default ":8080")
//   - Server.Path            — websocket endpoint (default "/ws")
//   - Server.Origin          — accepted Origin header; empty accepts any
//   - Server.Heartbeat       — keepalive ping period (default 27s)
//   - Server.SendBuffer      — frames queued per connection (default 256)
//   - Server.MaxMessageSize  — largest inbound frame in bytes (default 64KiB)
//   - Server.ShutdownTimeout — HTTP drain time on exit (default 10s)
//   - Log.Level              — debug | info | warn | error (default info)
//   - Metrics.Tick           — period of the JSON metrics dump; 0 disables
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change; only the log level is applied live.
package config
