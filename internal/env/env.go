// Package env resolves the variables inventory values may reference: the
// process environment, dotenv files and operator overrides.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Vars maps variable names to values.
type Vars map[string]string

// FromOS captures the current process environment.
func FromOS() Vars {
	out := make(Vars)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			out[key] = value
		}
	}
	return out
}

// Merge combines sets left to right; later sets win.
func Merge(sets ...Vars) Vars {
	out := make(Vars)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// LoadEnvFiles reads dotenv files, resolving relative names against baseDir.
// Later files override earlier ones; blank names are ignored.
func LoadEnvFiles(baseDir string, files []string) (Vars, error) {
	paths := make([]string, 0, len(files))
	for _, name := range files {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(baseDir, name)
		}
		paths = append(paths, name)
	}
	if len(paths) == 0 {
		return Vars{}, nil
	}

	values, err := godotenv.Read(paths...)
	if err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	return Vars(values), nil
}

// Expand replaces ${NAME} and $NAME references in s. Unknown names expand
// to the empty string, as in a shell.
func (v Vars) Expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(key string) string { return v[key] })
}

// ParsePairs parses a comma-separated KEY=VALUE list such as "TAG=v2,REPLICAS=3".
func ParsePairs(s string) (Vars, error) {
	out := make(Vars)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q, expected KEY=VALUE", part)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in pair %q", part)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
