package config

import (
	"os"
	"sort"
	"strings"
)

// Environment variables that override settings file values.
const (
	EnvAddr      = "GENESISWEB_ADDR"
	EnvConfigDir = "GENESISWEB_CONFIG_DIR"
	EnvSettings  = "GENESISWEB_SETTINGS"
)

// DefaultWorkflowEnv returns the variables every workflow run gets.
// Python block-buffers stdout when it is a pipe, which would hold prompts
// back until the buffer fills.
func DefaultWorkflowEnv() map[string]string {
	return map[string]string{
		"PYTHONUNBUFFERED": "1",
		"PYTHONIOENCODING": "utf-8",
	}
}

// ApplyEnv overrides settings from the process environment.
func (s *Settings) ApplyEnv() {
	s.applyEnv(os.LookupEnv)
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && strings.TrimSpace(v) != "" {
		s.Server.Addr = v
	}
	if v, ok := lookup(EnvConfigDir); ok && strings.TrimSpace(v) != "" {
		s.ConfigDir = v
	}
}

// MergeEnv merges multiple environment maps, with later maps taking precedence.
func MergeEnv(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// EnvToSlice converts an env map to a sorted slice of "K=V" strings.
func EnvToSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(env))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
