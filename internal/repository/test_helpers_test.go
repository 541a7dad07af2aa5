package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/roomlens/roomlens/internal/analysis"
	"github.com/roomlens/roomlens/internal/scan"
	"github.com/roomlens/roomlens/internal/store"
	"gorm.io/gorm"
)

type countingTrigger struct {
	mu    sync.Mutex
	count int
}

func (t *countingTrigger) Trigger() {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
}

func (t *countingTrigger) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

type memoryRemote struct {
	mu          sync.Mutex
	nextID      int
	unreachable bool
	documents   map[string]map[string]map[string]any
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{documents: make(map[string]map[string]map[string]any)}
}

func (r *memoryRemote) setUnreachable(unreachable bool) {
	r.mu.Lock()
	r.unreachable = unreachable
	r.mu.Unlock()
}

func (r *memoryRemote) CreateDocument(_ context.Context, collection string, document map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable {
		return "", errors.New("network unreachable")
	}
	r.nextID++
	remoteID := fmt.Sprintf("remote-%03d", r.nextID)
	if r.documents[collection] == nil {
		r.documents[collection] = make(map[string]map[string]any)
	}
	r.documents[collection][remoteID] = document
	return remoteID, nil
}

func (r *memoryRemote) UpsertDocument(_ context.Context, collection, remoteID string, document map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable {
		return errors.New("network unreachable")
	}
	if r.documents[collection] == nil {
		r.documents[collection] = make(map[string]map[string]any)
	}
	r.documents[collection][remoteID] = document
	return nil
}

func (r *memoryRemote) DeleteDocument(_ context.Context, collection, remoteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable {
		return errors.New("network unreachable")
	}
	delete(r.documents[collection], remoteID)
	return nil
}

func (r *memoryRemote) documentCount(collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.documents[collection])
}

type stubClassifier struct {
	results map[string]analysis.ImageAnalysis
	errs    map[string]error
}

func (c *stubClassifier) Analyze(_ context.Context, image scan.CapturedImage) (analysis.ImageAnalysis, error) {
	if err, ok := c.errs[image.Ref]; ok {
		return analysis.ImageAnalysis{}, err
	}
	if result, ok := c.results[image.Ref]; ok {
		return result, nil
	}
	return analysis.ImageAnalysis{}, errors.New("unscripted image")
}

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("local-%03d", p.next), nil
}

type repositoryHarness struct {
	repository *Repository
	store      *store.Store
	dispatcher *ChangeDispatcher
	trigger    *countingTrigger
	remote     *memoryRemote
}

func newRepositoryHarness(t *testing.T, classifier analysis.ImageClassifier) *repositoryHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:roomlens_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

	localStore, err := store.New(store.Config{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	aggregator, err := analysis.NewAggregator(analysis.AggregatorConfig{Classifier: classifier})
	if err != nil {
		t.Fatalf("failed to construct aggregator: %v", err)
	}

	dispatcher := NewChangeDispatcher()
	trigger := &countingTrigger{}
	remote := newMemoryRemote()

	repo, err := New(Config{
		Store:         localStore,
		Aggregator:    aggregator,
		Dispatcher:    dispatcher,
		Sync:          trigger,
		Remote:        remote,
		DeleteTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}

	return &repositoryHarness{
		repository: repo,
		store:      localStore,
		dispatcher: dispatcher,
		trigger:    trigger,
		remote:     remote,
	}
}

func mustScanID(t *testing.T, value string) scan.ScanID {
	t.Helper()
	id, err := scan.NewScanID(value)
	if err != nil {
		t.Fatalf("unexpected scan id error: %v", err)
	}
	return id
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
