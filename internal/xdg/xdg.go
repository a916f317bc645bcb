// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package xdg resolves XDG Base Directory paths for storefront.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "storefront"

// ConfigFileName is the file looked up in ConfigDir when --config is not
// given.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for storefront.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_HOME_UNKNOWN").Wrap(err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultConfigFile returns ConfigDir/config.yaml when that file exists.
// It returns "" with no error when there is no such file.
func DefaultConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.Code("XDG_CONFIG_UNREADABLE").With("path", path).Wrap(err)
	case info.IsDir():
		return "", oops.Code("XDG_CONFIG_UNREADABLE").With("path", path).Errorf("config path is a directory")
	}
	return path, nil
}
