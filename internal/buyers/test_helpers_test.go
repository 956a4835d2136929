package buyers

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type seqIDGenerator struct {
	prefix string
	next   int
}

func (g *seqIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *testClock) {
	t.Helper()

	databasePath := filepath.Join(t.TempDir(), "buyers_test.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Buyer{}, &LeadChange{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Unix(1760000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &seqIDGenerator{prefix: "id"},
	})
	if err != nil {
		t.Fatalf("failed to construct buyers service: %v", err)
	}

	return service, db, clock
}

func validInput() Input {
	return Input{
		FullName:     "Ravi Sharma",
		Phone:        "9876543210",
		City:         "Mohali",
		PropertyType: "Apartment",
		BHK:          "3",
		Purpose:      "Buy",
		Timeline:     "0-3m",
		Source:       "Website",
	}
}

func budget(value int64) *int64 {
	return &value
}
