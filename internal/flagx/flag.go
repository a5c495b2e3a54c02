// Package flagx lets several components parse their own flags out of one
// shared command line without tripping over each other's flags.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// Spec names the flags a component understands, without leading dashes.
// Value flags take an argument; Bool flags never consume the next token.
type Spec struct {
	Value []string
	Bool  []string
}

// Filter returns the tokens of args that belong to flags in spec, in
// order. "-name value", "--name value" and "-name=value" are all accepted.
// A value flag followed by another dash-prefixed token keeps no value.
func Filter(args []string, spec Spec) []string {
	kinds := make(map[string]bool, len(spec.Value)+len(spec.Bool))
	for _, n := range spec.Value {
		kinds[n] = true
	}
	for _, n := range spec.Bool {
		kinds[n] = false
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name, inline, ok := splitFlag(args[i])
		if !ok {
			continue
		}
		takesValue, known := kinds[name]
		if !known {
			continue
		}

		out = append(out, args[i])
		if takesValue && !inline && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// splitFlag returns the flag name of tok and whether it carries its value
// after '='.
func splitFlag(tok string) (name string, inline bool, ok bool) {
	if !strings.HasPrefix(tok, "-") {
		return "", false, false
	}
	name = strings.TrimLeft(tok, "-")
	if name == "" {
		return "", false, false
	}
	if i := strings.IndexByte(name, '='); i >= 0 {
		return name[:i], true, true
	}
	return name, false, true
}

// ConfigPath returns the JSON config path given with -c or -config, or ""
// when neither is present. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(Filter(args, Spec{Value: []string{"c", "config"}}))

	return path
}
