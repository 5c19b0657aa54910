// Package security keeps the credential-bearing files private to their owner.
package security

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
)

// PrivateFileMode is the mode for config and database files
const PrivateFileMode os.FileMode = 0600

// CheckFilePermissions tightens path to want and reports whether it changed anything.
// A missing file is not an error.
func CheckFilePermissions(path string, want os.FileMode) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file permissions: %w", err)
	}

	got := info.Mode().Perm()
	if got == want {
		return false, nil
	}

	log.Printf("WARNING: %s has permissions %o, should be %o", path, got, want)
	if err := os.Chmod(path, want); err != nil {
		return false, fmt.Errorf("failed to set permissions: %w", err)
	}
	log.Printf("Fixed permissions for %s", path)
	return true, nil
}

// EnsureSecurePermissions locks down the config file, the database and its WAL files
func EnsureSecurePermissions(configPath, dbPath string) {
	paths := []string{configPath, dbPath, dbPath + "-wal", dbPath + "-shm"}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := CheckFilePermissions(p, PrivateFileMode); err != nil {
			log.Printf("Warning: Could not secure %s: %v", p, err)
		}
	}
}
