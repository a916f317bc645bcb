// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Command gen-schema writes the JSON Schema of each HTTP API request body.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/storefront/storefront/internal/httpapi"
)

func main() {
	if err := run("schemas"); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schemas: %v\n", err)
		os.Exit(1)
	}
}

func run(dir string) error {
	schemas, err := httpapi.GenerateSchemas()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		outPath := filepath.Join(dir, name+".schema.json")
		if err := os.WriteFile(outPath, schemas[name], 0o600); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
	return nil
}
