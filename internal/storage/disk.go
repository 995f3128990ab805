package storage

import (
	"errors"
	"io/fs"
	"os"
)

// DatabaseFiles returns the SQLite database path together with its WAL and
// shared-memory sidecar files.
func DatabaseFiles(dbPath string) []string {
	return []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
}

// DatabaseSize returns the bytes used by the database at dbPath and its
// sidecar files. Sidecars that do not exist count as 0.
func DatabaseSize(dbPath string) (int64, error) {
	var total int64
	for _, p := range DatabaseFiles(dbPath) {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
