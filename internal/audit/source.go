package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// sourceFile holds the audit source ID under the data directory.
const sourceFile = "audit_source_id"

// SourceID returns the stable ID that marks this deployment as the source
// of its audit events. It is read from dataDir, or minted as a UUIDv7 and
// stored there on first use. A file that does not hold a valid UUID is
// replaced, so a truncated write cannot leave events without a source.
func SourceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, sourceFile)

	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String(), nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate audit source id: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	// Write then rename so a reader never sees a partial ID.
	tmp, err := os.CreateTemp(dataDir, sourceFile+".*")
	if err != nil {
		return "", fmt.Errorf("store audit source id: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(id.String() + "\n"); err != nil {
		tmp.Close()
		return "", fmt.Errorf("store audit source id: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("store audit source id: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store audit source id: %w", err)
	}
	return id.String(), nil
}
