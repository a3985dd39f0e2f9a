// Package deps probes the external tools camlapse shells out to.
package deps

// Status reports whether an external tool is usable. Command is the resolved
// path when the tool was found, otherwise the configured name.
type Status struct {
	Name        string
	Command     string
	Description string
	Available   bool
	Detail      string
}
