package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/jobservice"
	"github.com/timmy/adforge/internal/repository"
)

type fakeConceptSubmitter struct {
	next    int
	failOn  int // 1-based call index to fail at, 0 for never
	lastURL string
}

func (f *fakeConceptSubmitter) SubmitConceptExtraction(_ context.Context, imageURL, _ string) (string, error) {
	f.next++
	f.lastURL = imageURL
	if f.failOn != 0 && f.next >= f.failOn {
		return "", jobservice.ErrUpstreamTimeout
	}
	return fmt.Sprintf("extract-%d", f.next), nil
}

func seedWorkflow(t *testing.T, workflows *repository.WorkflowRepository, userID string, ads ...domain.ScrapedAd) {
	t.Helper()
	adsJSON := make(domain.JSONArray, 0, len(ads))
	for _, ad := range ads {
		adsJSON = append(adsJSON, map[string]interface{}{
			"ad_archive_id": ad.AdArchiveID,
			"image_url":     ad.ImageURL,
			"ad_type":       ad.AdType,
		})
	}
	if err := workflows.Create(context.Background(), &domain.Workflow{
		ID:      uuid.New().String(),
		UserID:  userID,
		Name:    "scrape run",
		AdsJSON: adsJSON,
	}); err != nil {
		t.Fatalf("seed workflow failed: %v", err)
	}
}

func newConceptService(t *testing.T, env *testEnv, submitter ConceptSubmitter) (*ConceptService, *repository.WorkflowRepository) {
	t.Helper()
	workflows := repository.NewWorkflowRepository(env.db)
	relay := NewStreamRelay(idleStreamer{}, env.registry, env.store)
	t.Cleanup(relay.Shutdown)
	svc := NewConceptService(submitter, workflows, env.concepts, env.store, env.registry, relay, nil)
	return svc, workflows
}

func TestSubmitConcepts(t *testing.T) {
	env := newTestEnv(t)
	submitter := &fakeConceptSubmitter{}
	svc, workflows := newConceptService(t, env, submitter)

	seedWorkflow(t, workflows, "user-a",
		domain.ScrapedAd{AdArchiveID: "486517397763120", ImageURL: "https://cdn.example.com/1.jpg", AdType: "image"},
		domain.ScrapedAd{AdArchiveID: "486517397763121", ImageURL: "https://cdn.example.com/2.jpg", AdType: "image"},
	)

	ctx := context.Background()
	created, err := svc.SubmitConcepts(ctx, "user-a", []string{"486517397763120", "486517397763121"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 concepts, got %d", len(created))
	}
	for i, concept := range created {
		if concept.Status != domain.StatusPending {
			t.Errorf("concept %d status: got %s, want pending", i, concept.Status)
		}
		task, err := env.registry.Get(ctx, concept.TaskID)
		if err != nil {
			t.Fatalf("task %s not registered: %v", concept.TaskID, err)
		}
		if task.EntityID != concept.ID || task.AdArchiveID != concept.AdArchiveID {
			t.Errorf("task linkage wrong: entity=%s, ad=%s", task.EntityID, task.AdArchiveID)
		}
	}
}

func TestSubmitConceptsAllOrNothingResolution(t *testing.T) {
	env := newTestEnv(t)
	submitter := &fakeConceptSubmitter{}
	svc, workflows := newConceptService(t, env, submitter)

	seedWorkflow(t, workflows, "user-a",
		domain.ScrapedAd{AdArchiveID: "111", ImageURL: "https://cdn.example.com/1.jpg"},
	)

	// One resolvable ad plus one unknown: nothing may be submitted.
	_, err := svc.SubmitConcepts(context.Background(), "user-a", []string{"111", "999"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if submitter.next != 0 {
		t.Errorf("submits happened despite unresolved ad: %d", submitter.next)
	}
}

func TestSubmitConceptsCrossUserAdsInvisible(t *testing.T) {
	env := newTestEnv(t)
	submitter := &fakeConceptSubmitter{}
	svc, workflows := newConceptService(t, env, submitter)

	seedWorkflow(t, workflows, "user-b",
		domain.ScrapedAd{AdArchiveID: "555", ImageURL: "https://cdn.example.com/5.jpg"},
	)

	_, err := svc.SubmitConcepts(context.Background(), "user-a", []string{"555"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for another user's ad, got %v", err)
	}
}

func TestSubmitConceptsPartialBatchOnUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	submitter := &fakeConceptSubmitter{failOn: 2}
	svc, workflows := newConceptService(t, env, submitter)

	seedWorkflow(t, workflows, "user-a",
		domain.ScrapedAd{AdArchiveID: "111", ImageURL: "https://cdn.example.com/1.jpg"},
		domain.ScrapedAd{AdArchiveID: "222", ImageURL: "https://cdn.example.com/2.jpg"},
		domain.ScrapedAd{AdArchiveID: "333", ImageURL: "https://cdn.example.com/3.jpg"},
	)

	created, err := svc.SubmitConcepts(context.Background(), "user-a", []string{"111", "222", "333"})
	if !errors.Is(err, jobservice.ErrUpstreamTimeout) {
		t.Fatalf("expected upstream timeout, got %v", err)
	}
	// The first submission succeeded before the failure; its row stays.
	if len(created) != 1 || created[0].AdArchiveID != "111" {
		t.Fatalf("expected the one pre-failure concept, got %v", created)
	}
	stored, err := env.concepts.ListByAdArchiveIDs(context.Background(), "user-a", []string{"111", "222", "333"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected 1 stored concept, got %d", len(stored))
	}
}

func TestSubmitConceptsTaskRegisteredBeforeRow(t *testing.T) {
	env := newTestEnv(t)
	submitter := &fakeConceptSubmitter{}
	svc, workflows := newConceptService(t, env, submitter)

	seedWorkflow(t, workflows, "user-a",
		domain.ScrapedAd{AdArchiveID: "111", ImageURL: "https://cdn.example.com/1.jpg"},
	)

	// Break the concept table so the row insert fails after the task write.
	// Startup reconciliation walks tasks, so the task must exist regardless.
	if err := env.db.Migrator().DropTable(&domain.AdConcept{}); err != nil {
		t.Fatalf("drop table failed: %v", err)
	}

	_, err := svc.SubmitConcepts(context.Background(), "user-a", []string{"111"})
	if err == nil {
		t.Fatal("expected an error from the broken concept store")
	}
	task, err := env.registry.Get(context.Background(), "extract-1")
	if err != nil {
		t.Fatalf("task not registered before the row insert: %v", err)
	}
	if task.Status != domain.StatusPending || task.EntityID == "" {
		t.Errorf("task row incomplete: status=%s, entity=%s", task.Status, task.EntityID)
	}
}

func TestConceptGetOwnership(t *testing.T) {
	env := newTestEnv(t)
	submitter := &fakeConceptSubmitter{}
	svc, _ := newConceptService(t, env, submitter)
	concept := env.seedConceptTask(t, "extract-own")

	if _, err := svc.Get(context.Background(), "user-a", concept.ID); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), "user-b", concept.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for foreign read, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "user-a", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
