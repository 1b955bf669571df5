// Copyright 2025 Keepsake AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var (
	// ${VAR:-default}
	envVarWithDefaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-([^}]*)\}`)
	// ${VAR}
	envVarBracedPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	// $VAR
	envVarBarePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// envFiles are loaded in order; earlier files win.
var envFiles = []string{".env.local", ".env"}

// LoadEnvFiles loads dotenv files from the working directory. Missing
// files are not an error.
func LoadEnvFiles() error {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// ExpandEnvVars substitutes ${VAR:-default}, ${VAR}, and $VAR in a
// string. Unset variables without a default expand to the empty string.
func ExpandEnvVars(s string) string {
	s = envVarWithDefaultPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarWithDefaultPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[2]
	})

	s = envVarBracedPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarBracedPattern.FindStringSubmatch(match)
		return os.Getenv(groups[1])
	})

	s = envVarBarePattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarBarePattern.FindStringSubmatch(match)
		return os.Getenv(groups[1])
	})

	return s
}

// parseValue coerces an expanded string into bool, int, or float when
// the whole value is a substitution, so `port: ${PORT:-6379}` decodes
// as an integer.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ExpandEnvVarsInData walks decoded YAML and expands every string leaf.
func ExpandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := ExpandEnvVars(v)
		if expanded != v {
			return parseValue(expanded)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = ExpandEnvVarsInData(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = ExpandEnvVarsInData(val)
		}
		return out
	default:
		return data
	}
}
