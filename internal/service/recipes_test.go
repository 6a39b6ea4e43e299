package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/jobservice"
	"github.com/timmy/adforge/internal/repository"
)

type fakeRecipeSubmitter struct {
	taskID string
	err    error
	calls  int
}

func (f *fakeRecipeSubmitter) SubmitRecipeGeneration(_ context.Context, _, _, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.taskID, nil
}

// idleStreamer keeps subscriptions open until canceled; recipe creation tests
// only need the relay to exist.
type idleStreamer struct{}

func (idleStreamer) StreamStatus(ctx context.Context, _ string, _ func(jobservice.StatusEvent) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func newRecipeService(t *testing.T, env *testEnv, submitter RecipeSubmitter, products *repository.ProductRepository) (*RecipeService, *StreamRelay) {
	t.Helper()
	relay := NewStreamRelay(idleStreamer{}, env.registry, env.store)
	t.Cleanup(relay.Shutdown)
	return NewRecipeService(submitter, products, env.recipes, env.store, env.registry, relay), relay
}

func seedProduct(t *testing.T, products *repository.ProductRepository, userID string) *domain.Product {
	t.Helper()
	product := &domain.Product{
		ID:       uuid.New().String(),
		UserID:   userID,
		Name:     "Collagen Gummies",
		SalesURL: "https://shop.example.com/collagen",
	}
	if err := products.Create(context.Background(), product); err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
	return product
}

func completeConcept(t *testing.T, env *testEnv, concept *domain.AdConcept, doc domain.JSONMap) {
	t.Helper()
	if _, err := env.store.CompleteConcept(context.Background(), concept.ID, doc); err != nil {
		t.Fatalf("complete concept failed: %v", err)
	}
}

func TestRecipeCreate(t *testing.T) {
	env := newTestEnv(t)
	products := repository.NewProductRepository(env.db)
	product := seedProduct(t, products, "user-a")

	concept := env.seedConceptTask(t, "extract-1")
	completeConcept(t, env, concept, domain.JSONMap{"hook": "before/after"})

	submitter := &fakeRecipeSubmitter{taskID: "generate-1"}
	svc, _ := newRecipeService(t, env, submitter, products)

	recipe, err := svc.Create(context.Background(), "user-a", "Spring push", []string{concept.ID}, product.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if recipe.Status != domain.StatusPending {
		t.Errorf("recipe status: got %s, want pending", recipe.Status)
	}
	if recipe.TaskID != "generate-1" {
		t.Errorf("recipe task: got %s, want generate-1", recipe.TaskID)
	}

	// The assembled prompt carries the product, the concepts, and both
	// prompt texts.
	if s, ok := recipe.PromptJSON["system_prompt"].(string); !ok || s == "" {
		t.Error("system prompt missing from assembled document")
	}
	if s, ok := recipe.PromptJSON["user_prompt"].(string); !ok || s == "" {
		t.Error("user prompt missing from assembled document")
	}
	productDoc, ok := recipe.PromptJSON["product"].(map[string]interface{})
	if !ok || productDoc["name"] != "Collagen Gummies" {
		t.Errorf("product missing from assembled document: %v", recipe.PromptJSON["product"])
	}

	// The generation task is registered and linked back to the recipe.
	task, err := env.registry.Get(context.Background(), "generate-1")
	if err != nil {
		t.Fatalf("generation task not registered: %v", err)
	}
	if task.SubjectKind != domain.SubjectAdRecipe || task.EntityID != recipe.ID {
		t.Errorf("task linkage wrong: kind=%s, entity=%s", task.SubjectKind, task.EntityID)
	}
}

func TestRecipeCreateRejectsUnreadyConcept(t *testing.T) {
	env := newTestEnv(t)
	products := repository.NewProductRepository(env.db)
	product := seedProduct(t, products, "user-a")

	// Concept is still pending; pairing must be rejected without submitting.
	concept := env.seedConceptTask(t, "extract-2")

	submitter := &fakeRecipeSubmitter{taskID: "generate-2"}
	svc, _ := newRecipeService(t, env, submitter, products)

	_, err := svc.Create(context.Background(), "user-a", "Too early", []string{concept.ID}, product.ID)
	if !errors.Is(err, ErrConceptNotReady) {
		t.Fatalf("expected ErrConceptNotReady, got %v", err)
	}
	if submitter.calls != 0 {
		t.Errorf("upstream submit happened despite validation failure: %d calls", submitter.calls)
	}
}

func TestRecipeCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	products := repository.NewProductRepository(env.db)
	product := seedProduct(t, products, "user-a")
	concept := env.seedConceptTask(t, "extract-3")
	completeConcept(t, env, concept, domain.JSONMap{})

	otherProduct := seedProduct(t, products, "user-b")

	submitter := &fakeRecipeSubmitter{taskID: "generate-3"}
	svc, _ := newRecipeService(t, env, submitter, products)
	ctx := context.Background()

	testCases := []struct {
		name       string
		userID     string
		recipeName string
		conceptIDs []string
		productID  string
		wantErr    error
	}{
		{name: "missing name", userID: "user-a", recipeName: "", conceptIDs: []string{concept.ID}, productID: product.ID, wantErr: ErrInvalidInput},
		{name: "no concepts", userID: "user-a", recipeName: "x", conceptIDs: nil, productID: product.ID, wantErr: ErrInvalidInput},
		{name: "unknown product", userID: "user-a", recipeName: "x", conceptIDs: []string{concept.ID}, productID: "nope", wantErr: ErrNotFound},
		{name: "foreign product", userID: "user-a", recipeName: "x", conceptIDs: []string{concept.ID}, productID: otherProduct.ID, wantErr: ErrForbidden},
		{name: "duplicate concept ids", userID: "user-a", recipeName: "x", conceptIDs: []string{concept.ID, concept.ID}, productID: product.ID, wantErr: ErrInvalidInput},
		{name: "unknown concept", userID: "user-a", recipeName: "x", conceptIDs: []string{"nope"}, productID: product.ID, wantErr: ErrNotFound},
		{name: "foreign concept", userID: "user-b", recipeName: "x", conceptIDs: []string{concept.ID}, productID: otherProduct.ID, wantErr: ErrForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.userID, tc.recipeName, tc.conceptIDs, tc.productID)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
	if submitter.calls != 0 {
		t.Errorf("upstream submit happened despite validation failures: %d calls", submitter.calls)
	}
}

func TestRecipeCreateSubmitFailure(t *testing.T) {
	env := newTestEnv(t)
	products := repository.NewProductRepository(env.db)
	product := seedProduct(t, products, "user-a")
	concept := env.seedConceptTask(t, "extract-4")
	completeConcept(t, env, concept, domain.JSONMap{})

	submitter := &fakeRecipeSubmitter{err: jobservice.ErrUpstreamUnavailable}
	svc, _ := newRecipeService(t, env, submitter, products)

	_, err := svc.Create(context.Background(), "user-a", "Doomed", []string{concept.ID}, product.ID)
	if !errors.Is(err, jobservice.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	// No orphan recipe row may exist after a rejected submit.
	recipes, err := env.recipes.ListByUser(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recipes) != 0 {
		t.Errorf("expected no recipes after failed submit, got %d", len(recipes))
	}
}

func TestRecipeCreateTaskRegisteredBeforeRow(t *testing.T) {
	env := newTestEnv(t)
	products := repository.NewProductRepository(env.db)
	product := seedProduct(t, products, "user-a")
	concept := env.seedConceptTask(t, "extract-9")
	completeConcept(t, env, concept, domain.JSONMap{})

	submitter := &fakeRecipeSubmitter{taskID: "generate-9"}
	svc, _ := newRecipeService(t, env, submitter, products)

	// Break the recipe table so the row insert fails after the task write.
	if err := env.db.Migrator().DropTable(&domain.AdRecipe{}); err != nil {
		t.Fatalf("drop table failed: %v", err)
	}

	_, err := svc.Create(context.Background(), "user-a", "Broken store", []string{concept.ID}, product.ID)
	if err == nil {
		t.Fatal("expected an error from the broken recipe store")
	}
	task, err := env.registry.Get(context.Background(), "generate-9")
	if err != nil {
		t.Fatalf("task not registered before the row insert: %v", err)
	}
	if task.SubjectKind != domain.SubjectAdRecipe || task.EntityID == "" {
		t.Errorf("task row incomplete: kind=%s, entity=%s", task.SubjectKind, task.EntityID)
	}
}

func TestRecipeCompleteMergesGeneratedPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recipe, err := env.store.CreateRecipe(ctx, uuid.New().String(), "user-a", "Merge test", []string{"c1"}, "p1", "generate-5",
		domain.JSONMap{"system_prompt": "sys", "user_prompt": "usr"})
	if err != nil {
		t.Fatalf("create recipe failed: %v", err)
	}

	completed, err := env.store.CompleteRecipe(ctx, recipe.ID, domain.JSONMap{"image_prompt": "wide shot"})
	if err != nil {
		t.Fatalf("complete recipe failed: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Errorf("status: got %s, want completed", completed.Status)
	}
	if completed.PromptJSON["system_prompt"] != "sys" {
		t.Errorf("assembled prompt lost in merge: %v", completed.PromptJSON)
	}
	generated, ok := completed.PromptJSON["generated"].(map[string]interface{})
	if !ok || generated["image_prompt"] != "wide shot" {
		t.Errorf("generated payload not merged: %v", completed.PromptJSON["generated"])
	}

	// A second finalization attempt must not re-merge or mutate the row.
	again, err := env.store.CompleteRecipe(ctx, recipe.ID, domain.JSONMap{"image_prompt": "other"})
	if err != nil {
		t.Fatalf("repeat complete errored: %v", err)
	}
	generated, _ = again.PromptJSON["generated"].(map[string]interface{})
	if generated["image_prompt"] != "wide shot" {
		t.Errorf("terminal recipe re-merged: %v", generated)
	}
}
