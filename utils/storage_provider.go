package utils

import (
	"os"
	"strings"
)

const StorageProviderGCS = "gcs"

// GetStorageProvider reads STORAGE_PROVIDER; only GCS can host exported reports.
func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}
