package config

import (
	"os"
	"regexp"
	"sort"
)

// envVarPattern matches ${VAR} and $VAR references
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}|\$([A-Za-z0-9_]+)`)

// LookupFunc resolves one variable name
type LookupFunc func(name string) (string, bool)

// ExpandEnv replaces ${VAR} and $VAR with process environment values.
// Unset variables expand to the empty string.
func ExpandEnv(s string) string {
	return ExpandWith(s, os.LookupEnv)
}

// ExpandWith is ExpandEnv over an arbitrary lookup
func ExpandWith(s string, lookup LookupFunc) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		v, _ := lookup(name)
		return v
	})
}

// ExpandEnvMap expands all values in a map
func ExpandEnvMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	expanded := make(map[string]string, len(m))
	for key, value := range m {
		expanded[key] = ExpandEnv(value)
	}
	return expanded
}

// Environ renders the current environment extended with m (expanded), in
// the KEY=VALUE form exec.Cmd expects. Keys from m are appended sorted.
func Environ(m map[string]string) []string {
	env := os.Environ()
	if len(m) == 0 {
		return env
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, k+"="+ExpandEnv(m[k]))
	}
	return env
}
