package common

import (
	"path/filepath"
)

// GetDataDir returns the base data directory path.
// Priority:
// 1. ECHOSYNC_DIR from config
// 2. $HOME/.echosync (default)
// 3. ./data (fallback if HOME is not set)
func GetDataDir() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Directory.DataDir != "" {
		return cfg.Directory.DataDir
	}
	return getDataDir()
}

// GetBlobDir returns the local blob storage directory.
// Default: {DataDir}/blobs
func GetBlobDir() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Directory.BlobDir != "" {
		return cfg.Directory.BlobDir
	}
	return filepath.Join(GetDataDir(), "blobs")
}

// GetDatabasePath returns the SQLite database file path.
// Default: {DataDir}/echosync.db
func GetDatabasePath() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Directory.SQLiteDatabase != "" {
		return cfg.Directory.SQLiteDatabase
	}
	return filepath.Join(GetDataDir(), "echosync.db")
}
