package store

import (
	"context"
	"testing"
	"time"

	"github.com/roomlens/roomlens/internal/scan"
)

func createTestScan(t *testing.T, testStore *Store, name string) scan.ScanRecord {
	t.Helper()
	record, err := testStore.CreateScan(context.Background(), NewScan{
		RoomName:   mustRoomName(t, name),
		Dimensions: mustDimensions(t, 4, 4, 2.5),
		Findings: []scan.Finding{
			{Kind: "crack", Location: "wall", Severity: 0.5, SourceImageRef: "img-1"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return record
}

func TestPendingReturnsCreationOrderSnapshot(t *testing.T) {
	testStore, clock := newTestStore(t)
	ctx := context.Background()
	source := testStore.ScanSource()

	first := createTestScan(t, testStore, "Kitchen")
	clock.Advance(time.Second)
	second := createTestScan(t, testStore, "Bedroom")

	candidates, err := source.Pending(ctx)
	if err != nil {
		t.Fatalf("unexpected pending error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ID != first.ID || candidates[1].ID != second.ID {
		t.Fatalf("expected creation order, got %#v", candidates)
	}
}

func TestClaimFlipsEligibleRecordExactlyOnce(t *testing.T) {
	testStore, _ := newTestStore(t)
	ctx := context.Background()
	source := testStore.ScanSource()
	record := createTestScan(t, testStore, "Attic")

	item, claimed, err := source.Claim(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to win")
	}
	if item.Collection != CollectionScans {
		t.Fatalf("unexpected collection %q", item.Collection)
	}
	findings, ok := item.Document["findings"].([]map[string]any)
	if !ok || len(findings) != 1 {
		t.Fatalf("expected rendered findings, got %#v", item.Document["findings"])
	}

	_, claimedAgain, err := source.Claim(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected second claim error: %v", err)
	}
	if claimedAgain {
		t.Fatalf("a syncing record must not be claimable again")
	}
}

func TestMarkSyncedAssignsRemoteIDOnce(t *testing.T) {
	testStore, _ := newTestStore(t)
	ctx := context.Background()
	source := testStore.ScanSource()
	record := createTestScan(t, testStore, "Garage")

	if _, claimed, err := source.Claim(ctx, record.ID); err != nil || !claimed {
		t.Fatalf("expected successful claim, claimed=%v err=%v", claimed, err)
	}
	if err := source.MarkSynced(ctx, record.ID, "remote-1"); err != nil {
		t.Fatalf("unexpected mark-synced error: %v", err)
	}

	stored, err := testStore.GetScan(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.SyncState != scan.SyncStateSynced {
		t.Fatalf("expected synced state, got %q", stored.SyncState)
	}
	if stored.RemoteID != "remote-1" {
		t.Fatalf("expected remote id to be recorded, got %q", stored.RemoteID)
	}

	// A later write-back must not replace the identifier.
	if err := source.MarkSynced(ctx, record.ID, "remote-2"); err != nil {
		t.Fatalf("unexpected mark-synced error: %v", err)
	}
	stored, err = testStore.GetScan(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.RemoteID != "remote-1" {
		t.Fatalf("remote id must never change once assigned, got %q", stored.RemoteID)
	}
}

func TestMarkSyncedAfterContentMutationKeepsUnsynced(t *testing.T) {
	testStore, _ := newTestStore(t)
	ctx := context.Background()
	source := testStore.ScanSource()
	record := createTestScan(t, testStore, "Studio")

	if _, claimed, err := source.Claim(ctx, record.ID); err != nil || !claimed {
		t.Fatalf("expected successful claim, claimed=%v err=%v", claimed, err)
	}
	// Content changes while the push is in flight.
	if _, err := testStore.UpdateScanAnalysis(ctx, record.ID,
		[]scan.Finding{{Kind: "mold", Location: "corner", Severity: 0.6, SourceImageRef: "img-2"}},
		nil); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	if err := source.MarkSynced(ctx, record.ID, "remote-9"); err != nil {
		t.Fatalf("unexpected mark-synced error: %v", err)
	}

	stored, err := testStore.GetScan(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.SyncState != scan.SyncStateUnsynced {
		t.Fatalf("mutated content must stay unsynced for the next pass, got %q", stored.SyncState)
	}
	if stored.RemoteID != "remote-9" {
		t.Fatalf("expected remote id to be recorded, got %q", stored.RemoteID)
	}
}

func TestMarkFailedIncrementsRetryCount(t *testing.T) {
	testStore, _ := newTestStore(t)
	ctx := context.Background()
	source := testStore.ScanSource()
	record := createTestScan(t, testStore, "Porch")

	for expected := 1; expected <= 2; expected++ {
		if _, claimed, err := source.Claim(ctx, record.ID); err != nil || !claimed {
			t.Fatalf("expected successful claim, claimed=%v err=%v", claimed, err)
		}
		retryCount, err := source.MarkFailed(ctx, record.ID)
		if err != nil {
			t.Fatalf("unexpected mark-failed error: %v", err)
		}
		if retryCount != expected {
			t.Fatalf("expected retry count %d, got %d", expected, retryCount)
		}
	}

	stored, err := testStore.GetScan(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.SyncState != scan.SyncStateFailed {
		t.Fatalf("expected failed state, got %q", stored.SyncState)
	}
}

func TestReclaimStaleReturnsAbandonedRecords(t *testing.T) {
	testStore, clock := newTestStore(t)
	ctx := context.Background()
	source := testStore.ScanSource()
	record := createTestScan(t, testStore, "Cellar")

	if _, claimed, err := source.Claim(ctx, record.ID); err != nil || !claimed {
		t.Fatalf("expected successful claim, claimed=%v err=%v", claimed, err)
	}

	clock.Advance(time.Hour)
	cutoff := clock.Now().Add(-10 * time.Minute).Unix()
	reclaimed, err := source.ReclaimStale(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected reclaim error: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed record, got %d", reclaimed)
	}

	stored, err := testStore.GetScan(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.SyncState != scan.SyncStateFailed {
		t.Fatalf("expected reclaimed record to be failed, got %q", stored.SyncState)
	}
}

func TestNoteSourceSyncsIndependently(t *testing.T) {
	testStore, _ := newTestStore(t)
	ctx := context.Background()
	record := createTestScan(t, testStore, "Loft")

	note, err := testStore.CreateNote(ctx, record.ID, "check skylight seals")
	if err != nil {
		t.Fatalf("unexpected note create error: %v", err)
	}

	noteSource := testStore.NoteSource()
	item, claimed, err := noteSource.Claim(ctx, note.ID)
	if err != nil || !claimed {
		t.Fatalf("expected successful note claim, claimed=%v err=%v", claimed, err)
	}
	if item.Collection != CollectionNotes {
		t.Fatalf("unexpected collection %q", item.Collection)
	}
	if err := noteSource.MarkSynced(ctx, note.ID, "remote-note-1"); err != nil {
		t.Fatalf("unexpected mark-synced error: %v", err)
	}

	storedNote, err := testStore.GetNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if storedNote.SyncState != scan.SyncStateSynced {
		t.Fatalf("expected synced note, got %q", storedNote.SyncState)
	}

	storedScan, err := testStore.GetScan(ctx, record.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if storedScan.SyncState != scan.SyncStateUnsynced {
		t.Fatalf("note sync must not touch the parent scan, got %q", storedScan.SyncState)
	}
}
