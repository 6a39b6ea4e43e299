package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/adforge/internal/domain"
)

func seedConcept(t *testing.T, repo *ConceptRepository, userID, adArchiveID string) *domain.AdConcept {
	t.Helper()
	concept := &domain.AdConcept{
		ID:          uuid.New().String(),
		UserID:      userID,
		AdArchiveID: adArchiveID,
		ImageURL:    "https://cdn.example.com/" + adArchiveID + ".jpg",
		TaskID:      "task-" + uuid.New().String(),
		ConceptJSON: domain.JSONMap{},
	}
	if err := repo.CreatePending(context.Background(), concept); err != nil {
		t.Fatalf("seed concept failed: %v", err)
	}
	return concept
}

func TestConceptCompleteOnce(t *testing.T) {
	repo := NewConceptRepository(testDB(t))
	ctx := context.Background()
	concept := seedConcept(t, repo, "user-a", "111")

	doc := domain.JSONMap{"hook": "before/after", "tone": "urgent"}
	stored, applied, err := repo.Complete(ctx, concept.ID, doc)
	if err != nil || !applied {
		t.Fatalf("complete failed: applied=%v, err=%v", applied, err)
	}
	if stored.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if stored.ConceptJSON["hook"] != "before/after" {
		t.Errorf("concept document not stored: %v", stored.ConceptJSON)
	}

	// A racing fail arriving after completion must lose.
	stored, applied, err = repo.Fail(ctx, concept.ID, "late failure")
	if err != nil {
		t.Fatalf("post-terminal fail errored: %v", err)
	}
	if applied {
		t.Error("fail after complete must be a no-op")
	}
	if stored.Status != domain.StatusCompleted || stored.ErrorMessage != "" {
		t.Errorf("terminal row mutated: status=%s, error=%q", stored.Status, stored.ErrorMessage)
	}
}

func TestConceptConcurrentFinalization(t *testing.T) {
	repo := NewConceptRepository(testDB(t))
	ctx := context.Background()
	concept := seedConcept(t, repo, "user-a", "501")

	start := make(chan struct{})
	var wg sync.WaitGroup
	var completeApplied, failApplied bool
	var completeErr, failErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, completeApplied, completeErr = repo.Complete(ctx, concept.ID, domain.JSONMap{"hook": "winner"})
	}()
	go func() {
		defer wg.Done()
		<-start
		_, failApplied, failErr = repo.Fail(ctx, concept.ID, "loser")
	}()
	close(start)
	wg.Wait()

	if completeErr != nil || failErr != nil {
		t.Fatalf("finalization errored: complete=%v, fail=%v", completeErr, failErr)
	}
	if completeApplied == failApplied {
		t.Fatalf("expected exactly one finalizer to win: complete=%v, fail=%v", completeApplied, failApplied)
	}

	stored, err := repo.GetByID(ctx, concept.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if completeApplied {
		if stored.Status != domain.StatusCompleted || stored.ConceptJSON["hook"] != "winner" || stored.ErrorMessage != "" {
			t.Errorf("winning complete not reflected: status=%s, doc=%v, error=%q", stored.Status, stored.ConceptJSON, stored.ErrorMessage)
		}
	} else {
		if stored.Status != domain.StatusFailed || stored.ErrorMessage != "loser" {
			t.Errorf("winning fail not reflected: status=%s, error=%q", stored.Status, stored.ErrorMessage)
		}
	}
}

func TestConceptMarkProcessing(t *testing.T) {
	repo := NewConceptRepository(testDB(t))
	ctx := context.Background()
	concept := seedConcept(t, repo, "user-a", "222")

	if err := repo.MarkProcessing(ctx, concept.ID); err != nil {
		t.Fatalf("mark processing failed: %v", err)
	}
	stored, err := repo.GetByID(ctx, concept.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.StatusProcessing {
		t.Errorf("expected processing, got %s", stored.Status)
	}

	// Processing must not roll a terminal row back.
	if _, _, err := repo.Fail(ctx, concept.ID, "boom"); err != nil {
		t.Fatalf("fail errored: %v", err)
	}
	if err := repo.MarkProcessing(ctx, concept.ID); err != nil {
		t.Fatalf("post-terminal mark processing errored: %v", err)
	}
	stored, _ = repo.GetByID(ctx, concept.ID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("terminal row rolled back to %s", stored.Status)
	}
}

func TestConceptListByIDsPreservesOrder(t *testing.T) {
	repo := NewConceptRepository(testDB(t))
	ctx := context.Background()

	a := seedConcept(t, repo, "user-a", "301")
	b := seedConcept(t, repo, "user-a", "302")
	c := seedConcept(t, repo, "user-a", "303")

	testCases := []struct {
		name string
		ids  []string
		want []string
	}{
		{name: "request order", ids: []string{c.ID, a.ID, b.ID}, want: []string{c.ID, a.ID, b.ID}},
		{name: "subset", ids: []string{b.ID, c.ID}, want: []string{b.ID, c.ID}},
		{name: "unknown ids omitted", ids: []string{a.ID, "missing", b.ID}, want: []string{a.ID, b.ID}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.ListByIDs(ctx, tc.ids)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d concepts, got %d", len(tc.want), len(got))
			}
			for i, want := range tc.want {
				if got[i].ID != want {
					t.Errorf("position %d: got %s, want %s", i, got[i].ID, want)
				}
			}
		})
	}
}

func TestConceptListByAdArchiveIDs(t *testing.T) {
	repo := NewConceptRepository(testDB(t))
	ctx := context.Background()

	// Two submissions for the same ad; the later one wins.
	older := seedConcept(t, repo, "user-a", "401")
	time.Sleep(2 * time.Millisecond)
	newer := seedConcept(t, repo, "user-a", "401")
	other := seedConcept(t, repo, "user-a", "402")

	// Same ad id under a different user must not leak in.
	seedConcept(t, repo, "user-b", "401")

	got, err := repo.ListByAdArchiveIDs(ctx, "user-a", []string{"402", "401", "999"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 concepts, got %d", len(got))
	}
	if got[0].ID != other.ID {
		t.Errorf("position 0: got %s, want %s", got[0].ID, other.ID)
	}
	if got[1].ID != newer.ID {
		t.Errorf("position 1: got %s (older=%s), want latest %s", got[1].ID, older.ID, newer.ID)
	}
	for _, c := range got {
		if c.UserID != "user-a" {
			t.Errorf("cross-user concept leaked: %s", c.ID)
		}
	}
}
