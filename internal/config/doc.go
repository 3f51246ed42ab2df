// Package config manages thingcheck's user configuration file.
//
// The file is YAML and holds named connection profiles plus default
// timeouts. A profile stores where a thing lives (protocol, host, port,
// path prefix), which dialect it speaks, which parts of the scenario to
// skip and an optional capability fixture path.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/thingcheck/config.yaml or $HOME/.config/thingcheck/config.yaml
//   - macOS: $HOME/.config/thingcheck/config.yaml
//   - Windows: %LOCALAPPDATA%\thingcheck\config.yaml
//
// # Security
//
// Authorization headers are NEVER stored. They are passed on the command
// line for each run.
//
// # Usage Example
//
//	registry, path, err := config.LoadDefault()
//	if err != nil {
//	    return err
//	}
//	err = registry.SetProfile("lamp", &config.Profile{
//	    Protocol: "http",
//	    Host:     "192.168.1.20",
//	    Port:     8888,
//	    Flavor:   "WoT",
//	})
//	if err != nil {
//	    return err
//	}
//	return registry.Save(path)
//
// Save writes a temporary file in the same directory and renames it over
// the old one, so a crash never leaves a truncated file behind.
package config
