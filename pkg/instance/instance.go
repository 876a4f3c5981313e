package instance

import (
	"os"
	"strings"
)

const fallbackID = "proofledger-0"

// GetID identifies this process in logs and lock ownership: PROOFLEDGER_INSTANCE_ID,
// then the hostname.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("PROOFLEDGER_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
