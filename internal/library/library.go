// Package library maintains a SQLite-backed index of ROM file digests.
// Matching runs consult it through the Digest method so unchanged images
// are hashed once, not once per run.
package library

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rompatch/internal/hashutil"
)

// Schema for the ROM digest cache. A row is valid only while the file's
// size and mtime still match; Digest rehashes otherwise.
const schema = `
CREATE TABLE IF NOT EXISTS roms (
    path         TEXT PRIMARY KEY,
    size         INTEGER NOT NULL,
    mtime_ns     INTEGER NOT NULL,
    sha1         TEXT NOT NULL,
    crc32        INTEGER NOT NULL,
    hashed_at_ns INTEGER NOT NULL
);
`

// ROM is one cached digest row.
type ROM struct {
	Path       string
	Size       int64
	ModTimeNs  int64
	SHA1       string
	CRC32      uint32
	HashedAtNs int64
}

// Library is the on-disk digest cache.
type Library struct {
	db *sql.DB
}

// Open opens or creates the cache database at the given path.
func Open(path string) (*Library, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Library{db: db}, nil
}

// Close closes the database connection.
func (l *Library) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Digest returns the SHA-1 (hex), CRC32, and size of the ROM at path,
// serving from the cache while the file's size and mtime are unchanged.
// The path is resolved to absolute before it is used as the cache key.
func (l *Library) Digest(path string) (string, uint32, int64, error) {
	rom, err := l.digest(path)
	if err != nil {
		return "", 0, 0, err
	}
	return rom.SHA1, rom.CRC32, rom.Size, nil
}

func (l *Library) digest(path string) (ROM, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ROM{}, fmt.Errorf("resolve rom path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return ROM{}, fmt.Errorf("stat rom: %w", err)
	}

	cached, err := l.lookup(abs)
	if err == nil && cached != nil &&
		cached.Size == info.Size() && cached.ModTimeNs == info.ModTime().UnixNano() {
		return *cached, nil
	}

	sha, crc, size, err := hashutil.FileDigest(abs)
	if err != nil {
		return ROM{}, err
	}

	rom := ROM{
		Path:       abs,
		Size:       size,
		ModTimeNs:  info.ModTime().UnixNano(),
		SHA1:       sha,
		CRC32:      crc,
		HashedAtNs: time.Now().UnixNano(),
	}
	// A failed cache write only costs a rehash on the next call.
	_ = l.upsert(&rom)
	return rom, nil
}

// lookup retrieves a cached row by absolute path, nil when absent.
func (l *Library) lookup(path string) (*ROM, error) {
	var r ROM
	var crc int64

	err := l.db.QueryRow(`
		SELECT path, size, mtime_ns, sha1, crc32, hashed_at_ns
		FROM roms WHERE path = ?`, path,
	).Scan(&r.Path, &r.Size, &r.ModTimeNs, &r.SHA1, &crc, &r.HashedAtNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup rom: %w", err)
	}

	r.CRC32 = uint32(crc)
	return &r, nil
}

// upsert inserts or replaces a cache row.
func (l *Library) upsert(r *ROM) error {
	_, err := l.db.Exec(`
		INSERT OR REPLACE INTO roms (path, size, mtime_ns, sha1, crc32, hashed_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Path, r.Size, r.ModTimeNs, r.SHA1, int64(r.CRC32), r.HashedAtNs,
	)
	if err != nil {
		return fmt.Errorf("upsert rom: %w", err)
	}
	return nil
}

// All returns every cached row ordered by path.
func (l *Library) All() ([]ROM, error) {
	rows, err := l.db.Query(`
		SELECT path, size, mtime_ns, sha1, crc32, hashed_at_ns
		FROM roms ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("query roms: %w", err)
	}
	defer rows.Close()

	var roms []ROM
	for rows.Next() {
		var r ROM
		var crc int64
		if err := rows.Scan(&r.Path, &r.Size, &r.ModTimeNs, &r.SHA1, &crc, &r.HashedAtNs); err != nil {
			return nil, fmt.Errorf("scan rom: %w", err)
		}
		r.CRC32 = uint32(crc)
		roms = append(roms, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roms: %w", err)
	}
	return roms, nil
}

// Paths returns the cached ROM paths ordered by path.
func (l *Library) Paths() ([]string, error) {
	roms, err := l.All()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(roms))
	for i, r := range roms {
		paths[i] = r.Path
	}
	return paths, nil
}

// Count returns the number of cached rows.
func (l *Library) Count() (int, error) {
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM roms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count roms: %w", err)
	}
	return n, nil
}

// Forget drops the cache row for path, reporting whether one existed.
func (l *Library) Forget(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve rom path: %w", err)
	}

	result, err := l.db.Exec(`DELETE FROM roms WHERE path = ?`, abs)
	if err != nil {
		return false, fmt.Errorf("forget rom: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Prune drops rows whose files no longer exist, returning how many went.
func (l *Library) Prune() (int, error) {
	roms, err := l.All()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, r := range roms {
		if _, err := os.Stat(r.Path); err == nil {
			continue
		}
		if _, err := l.db.Exec(`DELETE FROM roms WHERE path = ?`, r.Path); err != nil {
			return pruned, fmt.Errorf("prune rom: %w", err)
		}
		pruned++
	}
	return pruned, nil
}
