// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas")
	require.NoError(t, run(dir))

	for _, name := range []string{"register", "login", "request-otp", "login-with-otp", "reset-password-with-otp"} {
		data, err := os.ReadFile(filepath.Join(dir, name+".schema.json"))
		require.NoError(t, err, name)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(data, &doc), name)
		assert.Equal(t, "https://storefront.local/schemas/"+name+".json", doc["$id"])
		assert.Equal(t, "object", doc["type"])
	}
}
