// internal/util/util.go
package util

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode"
	"unicode/utf8"

	"github.com/erilali/tcpchat/internal/config"
)

// LoadConfig reads a JSON configuration file on top of config.Default().
// A missing file is not an error; the defaults are returned as is.
func LoadConfig(filePath string) (config.Config, error) {
	cfg := config.Default()
	if filePath == "" {
		return cfg, nil
	}
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	defer file.Close()
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("util.LoadConfig: %s: %w", filePath, err)
	}
	return cfg, nil
}

// ValidDisplayName reports whether name can be admitted to the roster: non-empty,
// valid UTF-8, at most maxLen runes, no control characters and not all spaces.
func ValidDisplayName(name string, maxLen int) bool {
	if name == "" || !utf8.ValidString(name) {
		return false
	}
	if utf8.RuneCountInString(name) > maxLen {
		return false
	}
	blank := true
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
		if !unicode.IsSpace(r) {
			blank = false
		}
	}
	return !blank
}
