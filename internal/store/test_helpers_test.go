package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/roomlens/roomlens/internal/scan"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:roomlens_store_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&scan.ScanRecord{}, &scan.NoteRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := newTestClock(time.Unix(1700000000, 0).UTC())
	testStore, err := New(Config{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{prefix: "local"},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return testStore, clock
}

func mustRoomName(t *testing.T, value string) scan.RoomName {
	t.Helper()
	name, err := scan.NewRoomName(value)
	if err != nil {
		t.Fatalf("unexpected room name error: %v", err)
	}
	return name
}

func mustDimensions(t *testing.T, width, length, height float64) scan.RoomDimensions {
	t.Helper()
	dims, err := scan.NewRoomDimensions(width, length, height)
	if err != nil {
		t.Fatalf("unexpected dimensions error: %v", err)
	}
	return dims
}
