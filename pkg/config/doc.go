// Package config loads moddeps settings.
//
// Sources are layered with viper, lowest precedence first:
//
//   - built-in defaults (DefaultConfig)
//   - config.yaml in ConfigDir, or the file given with --config
//   - MODDEPS_* environment variables (MODDEPS_FORGE_URL, MODDEPS_HISTORY_ENABLED, ...)
//     plus LOG_LEVEL for the log level
//   - flags set on the command line
//
// A config file looks like:
//
//	modulepath: /etc/puppetlabs/code/environments/production/modules
//	puppetfile: ./Puppetfile
//	forge:
//	  url: https://forgeapi.puppet.com
//	  timeout: 30s
//	history:
//	  path: /var/lib/moddeps/history.db
//	logging:
//	  level: debug
//	  format: json
//	metrics:
//	  textfile: /var/lib/node_exporter/moddeps.prom
//
// The result is validated with go-playground/validator struct tags.
package config
