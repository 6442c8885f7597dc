// Package common holds small helpers shared by the drivefs command line
// tools.
package common

import (
	"fmt"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/unit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var commit string

// Version returns the current version string.
func Version() string {
	clen := 0
	if len(commit) > 7 {
		clen = 8
	}
	return fmt.Sprintf("v%s %s", version, commit[:clen])
}

// StringToLevel converts a string to a zerolog.Level, defaulting to info if
// the string is not recognized.
func StringToLevel(input string) zerolog.Level {
	level, err := zerolog.ParseLevel(input)
	if err != nil {
		log.Error().Err(err).Msg("Could not parse log level, defaulting to \"info\"")
		return zerolog.InfoLevel
	}
	return level
}

// LogLevels returns the available logging levels.
func LogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error", "fatal"}
}

// CacheDirFor computes the per-mountpoint cache directory the same way
// systemd would name a unit for it, so that two mounts of two different
// directories never collide.
func CacheDirFor(cacheRoot, mountpoint string) (string, error) {
	abs, err := filepath.Abs(mountpoint)
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheRoot, unit.UnitNamePathEscape(abs)), nil
}
