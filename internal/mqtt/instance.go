package mqtt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const instanceFile = "instance_id"

// LoadOrCreateInstanceID returns the node's stable identity from
// dataDir/instance_id, minting a UUIDv7 on first start. The client ID
// is derived from it, so renaming the device keeps the same broker
// session identity while wiping the data dir gives a new one.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)

	switch data, err := os.ReadFile(path); {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read instance ID %s: %w", path, err)
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("mint instance ID: %w", err)
	}
	id := u.String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write instance ID %s: %w", path, err)
	}
	return id, nil
}
