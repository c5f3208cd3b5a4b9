// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls the behavior of the external-symtab provider search
// and the continuous-relocation quirk override. The zero Config is
// valid and disables every optional source.
type Config struct {
	// ExternalDebugDirs are searched, in order, before the well-known
	// system debug directory, for a file named after the library's
	// basename (optionally with a ".debug" suffix).
	ExternalDebugDirs []string

	// ExternalBuildIDDir, if non-empty, is searched ahead of the
	// well-known build-id directory (/usr/lib/debug/.build-id) using
	// the library's .note.gnu.build-id content.
	ExternalBuildIDDir string

	// UseDebuginfod marks debuginfod as the last-resort external symtab
	// source. No debuginfod client is built in: once the other candidate
	// paths have all failed, setting it only logs a warning and no
	// lookup is made.
	UseDebuginfod bool

	// ForceBuggyLoader stands in for the .note.ABI-tag check: when the
	// dynamic tags request eager binding (DF_BIND_NOW, DF_1_NOW or
	// DT_BIND_NOW), need_continuous_relocations is set whatever the ABI
	// tag says. Without eager binding it has no effect.
	ForceBuggyLoader bool

	// Logger receives cascade-level Debug/Info/Warn messages. Nil
	// means logrus.StandardLogger().
	Logger *logrus.Logger
}

// ConfigFromEnv builds a Config from the four environment variables
// consulted by the external symtab provider and the continuous
// relocation quirk: EXTERNAL_DEBUG_DIR (colon-separated),
// EXTERNAL_BUILDID_DIR, USE_DEBUGINFOD and LD_BUGGY.
func ConfigFromEnv() Config {
	cfg := Config{
		ExternalBuildIDDir: os.Getenv("EXTERNAL_BUILDID_DIR"),
		UseDebuginfod:      os.Getenv("USE_DEBUGINFOD") != "",
		ForceBuggyLoader:   os.Getenv("LD_BUGGY") != "",
	}
	if dirs := os.Getenv("EXTERNAL_DEBUG_DIR"); dirs != "" {
		cfg.ExternalDebugDirs = strings.Split(dirs, ":")
	}
	return cfg
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}
