// Package testutil provides shared test utilities.
package testutil

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bbernstein/lacylights-swarm/internal/database"
	"github.com/bbernstein/lacylights-swarm/internal/database/repositories"
	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
)

// TestDB holds the test database and repositories.
type TestDB struct {
	DB          *gorm.DB
	DeviceRepo  *repositories.DeviceRepository
	SettingRepo *repositories.SettingRepository
}

// SetupTestDB creates a migrated in-memory SQLite database. The database is
// closed when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })

	return &TestDB{
		DB:          db,
		DeviceRepo:  repositories.NewDeviceRepository(db),
		SettingRepo: repositories.NewSettingRepository(db),
	}
}

// Conn records every datagram written to a node.
type Conn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

// Write implements registry.Conn.
func (c *Conn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

// Close implements registry.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Writes returns a copy of every datagram written so far.
func (c *Conn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer hands out recording connections keyed by node address.
type Dialer struct {
	mu    sync.Mutex
	conns map[netip.Addr]*Conn
}

// NewDialer creates an empty Dialer.
func NewDialer() *Dialer {
	return &Dialer{conns: make(map[netip.Addr]*Conn)}
}

// Dial implements registry.Dialer.
func (d *Dialer) Dial(addr netip.AddrPort) (registry.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &Conn{}
	d.conns[addr.Addr()] = c
	return c, nil
}

// Conn returns the connection dialed for addr.
func (d *Dialer) Conn(addr netip.Addr) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[addr]
}
