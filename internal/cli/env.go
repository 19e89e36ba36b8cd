package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// overrideEnvVar names a .env path that wins over the --env flag.
const overrideEnvVar = "LEADSCAN_ENV_FILE"

// EnvLoader loads a .env file chosen by the --env flag.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load tries, in order: $LEADSCAN_ENV_FILE, the --env value, its basename,
// then the default path. Values in the file override the process environment.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" {
		requested = l.defaultPath
	}

	for _, candidate := range l.candidates(requested) {
		if err := godotenv.Overload(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to load env file from %s", requested)
}

// LoadOrWarn loads the env file and prints a warning instead of failing; a
// missing .env is normal when configuration comes from the real environment.
func (l *EnvLoader) LoadOrWarn(w io.Writer) {
	if l == nil {
		return
	}
	if w == nil {
		w = os.Stderr
	}
	if _, err := l.Load(); err != nil {
		fmt.Fprintf(w, "Warning: %v\n", err)
	}
}

func (l *EnvLoader) candidates(requested string) []string {
	out := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	add(os.Getenv(overrideEnvVar))
	add(requested)
	add(filepath.Base(requested))
	add(l.defaultPath)
	return out
}
