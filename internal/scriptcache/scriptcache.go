// Package scriptcache provides an optional, content-hash-keyed cache of
// bundled worker source, so CreateWorker can skip re-bundling a script it
// has already seen — across Manager instances and process restarts.
// Generalizes the teacher's CompileAndCache (D1-backed script persistence,
// d1.go) from a per-database-binding concept to a single on-disk cache
// shared by every worker a Manager creates.
package scriptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// entry is the row stored per distinct bundled source.
type entry struct {
	Hash      string `gorm:"primaryKey"`
	Source    string
	Bundled   string
	CreatedAt time.Time
}

func (entry) TableName() string { return "bundled_scripts" }

// Cache is a content-addressed store of bundled script source.
type Cache struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the cache database at path. Pass
// ":memory:" for an ephemeral cache, useful in tests.
func Open(path string) (*Cache, error) {
	db, err := gorm.Open(gsqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening script cache %q: %w", path, err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrating script cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Hash returns the cache key for a piece of source text.
func Hash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the previously bundled output for source, if present.
func (c *Cache) Lookup(source string) (bundled string, ok bool, err error) {
	var row entry
	res := c.db.First(&row, "hash = ?", Hash(source))
	if res.Error != nil {
		if res.Error == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("looking up cached script: %w", res.Error)
	}
	return row.Bundled, true, nil
}

// Store records the bundled output produced for source. Overwrites any
// existing row for the same content hash (bundler output is a pure
// function of source, so a re-store is a no-op in practice).
func (c *Cache) Store(source, bundled string) error {
	row := entry{
		Hash:      Hash(source),
		Source:    source,
		Bundled:   bundled,
		CreatedAt: time.Now(),
	}
	res := c.db.Save(&row)
	if res.Error != nil {
		return fmt.Errorf("storing cached script: %w", res.Error)
	}
	return nil
}

// Close releases the underlying database connection.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("unwrapping script cache db: %w", err)
	}
	return sqlDB.Close()
}
