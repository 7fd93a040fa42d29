package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/noah-ai-agent/examples"
)

// runInit initializes a Noah working directory. It creates the data and
// knowledge directories and writes the example config. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Noah workspace in %s\n", dir)

	for _, sub := range []string{"data", "knowledge"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// The config may hold API keys and database credentials.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, then load clinical reference documents with:")
	fmt.Fprintf(w, "  noah ingest %s\n", filepath.Join(dir, "knowledge"))
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, perm)
}
