// Package secret resolves credential references in configuration values,
// so an auth token never has to be written into a config file.
//
// A value is first expanded against the environment (see ExpandEnvStrict),
// then, if it is a reference, resolved by the named provider:
//   - secretref:env:ABS_TOKEN      reads the ABS_TOKEN variable
//   - secretref:file:/run/token    reads a file, trimming trailing newlines
//
// Any other value is returned as expanded.
package secret
