package cliconfig

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// DefaultMachineIDPath is read to derive a stable broker client ID.
const DefaultMachineIDPath = "/etc/machine-id"

const clientIDPrefix = "sensorship-"

// DefaultClientID returns a client ID that survives restarts when the host
// has a machine ID, so persistent broker sessions are resumed. Otherwise
// it falls back to a random one.
func DefaultClientID() string {
	if id, err := readMachineID(DefaultMachineIDPath); err == nil {
		return id
	}
	return clientIDPrefix + uuid.NewString()
}

func readMachineID(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return "", os.ErrNotExist
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return clientIDPrefix + id, nil
}
