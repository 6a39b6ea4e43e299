package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/adforge/internal/config"
	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/jobservice"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/repository"
	"github.com/timmy/adforge/internal/service"
)

type fakeSubmitter struct {
	submitErr error
	next      int
}

func (f *fakeSubmitter) SubmitConceptExtraction(context.Context, string, string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.next++
	return fmt.Sprintf("extract-%d", f.next), nil
}

func (f *fakeSubmitter) SubmitRecipeGeneration(context.Context, string, string, string, string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.next++
	return fmt.Sprintf("generate-%d", f.next), nil
}

// idleStreamer holds relay subscriptions open; these tests never drive
// upstream events.
type idleStreamer struct{}

func (idleStreamer) StreamStatus(ctx context.Context, _ string, _ func(jobservice.StatusEvent) error) error {
	<-ctx.Done()
	return ctx.Err()
}

type testStack struct {
	router    http.Handler
	db        *gorm.DB
	workflows *repository.WorkflowRepository
}

func newTestStack(t *testing.T, submitter *fakeSubmitter) *testStack {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	taskRepo := repository.NewTaskRepository(db)
	conceptRepo := repository.NewConceptRepository(db)
	recipeRepo := repository.NewRecipeRepository(db)
	productRepo := repository.NewProductRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)

	registry := service.NewTaskRegistry(taskRepo)
	store := service.NewStoreAdapter(conceptRepo, recipeRepo)
	relay := service.NewStreamRelay(idleStreamer{}, registry, store)
	t.Cleanup(relay.Shutdown)
	reconciler := service.NewReconciler(registry, relay, nil)

	router := SetupRouter(&config.ServerConfig{Mode: "test"}, logger.GetDefault(), &Services{
		Concepts:   service.NewConceptService(submitter, workflowRepo, conceptRepo, store, registry, relay, nil),
		Recipes:    service.NewRecipeService(submitter, productRepo, recipeRepo, store, registry, relay),
		Products:   service.NewProductService(productRepo),
		Workflows:  service.NewWorkflowService(workflowRepo),
		Relay:      relay,
		Reconciler: reconciler,
	})
	return &testStack{router: router, db: db, workflows: workflowRepo}
}

func (s *testStack) request(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testStack) seedWorkflow(t *testing.T, userID string, adArchiveID string) {
	t.Helper()
	if err := s.workflows.Create(context.Background(), &domain.Workflow{
		ID:     uuid.New().String(),
		UserID: userID,
		Name:   "scrape run",
		AdsJSON: domain.JSONArray{map[string]interface{}{
			"ad_archive_id": adArchiveID,
			"image_url":     "https://cdn.example.com/" + adArchiveID + ".jpg",
		}},
	}); err != nil {
		t.Fatalf("seed workflow failed: %v", err)
	}
}

func TestHealthOpen(t *testing.T) {
	stack := newTestStack(t, &fakeSubmitter{})
	w := stack.request(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health: got %d, want 200", w.Code)
	}
}

func TestAPIRequiresUserIdentity(t *testing.T) {
	stack := newTestStack(t, &fakeSubmitter{})
	w := stack.request(t, http.MethodGet, "/api/v1/ad-recipes", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing identity: got %d, want 401", w.Code)
	}
}

func TestSubmitConceptsEndpoint(t *testing.T) {
	stack := newTestStack(t, &fakeSubmitter{})
	stack.seedWorkflow(t, "user-a", "486517397763120")

	w := stack.request(t, http.MethodPost, "/api/v1/ad-concepts", "user-a",
		`{"adIds":["486517397763120"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: got %d, want 202: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Concepts []domain.AdConcept `json:"concepts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Concepts) != 1 || resp.Concepts[0].Status != domain.StatusPending {
		t.Errorf("unexpected response: %+v", resp.Concepts)
	}

	// The stored concept is readable straight away.
	w = stack.request(t, http.MethodGet, "/api/v1/ad-concepts/"+resp.Concepts[0].ID, "user-a", "")
	if w.Code != http.StatusOK {
		t.Errorf("get concept: got %d, want 200", w.Code)
	}

	// Cross-user reads are rejected.
	w = stack.request(t, http.MethodGet, "/api/v1/ad-concepts/"+resp.Concepts[0].ID, "user-b", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign get concept: got %d, want 403", w.Code)
	}
}

func TestSubmitConceptsErrors(t *testing.T) {
	testCases := []struct {
		name       string
		submitter  *fakeSubmitter
		body       string
		seedAd     string
		wantStatus int
	}{
		{name: "missing body", submitter: &fakeSubmitter{}, body: "", wantStatus: http.StatusBadRequest},
		{name: "unknown ad", submitter: &fakeSubmitter{}, body: `{"adIds":["999"]}`, wantStatus: http.StatusBadRequest},
		{name: "upstream timeout", submitter: &fakeSubmitter{submitErr: jobservice.ErrUpstreamTimeout}, body: `{"adIds":["111"]}`, seedAd: "111", wantStatus: http.StatusGatewayTimeout},
		{name: "upstream unavailable", submitter: &fakeSubmitter{submitErr: jobservice.ErrUpstreamUnavailable}, body: `{"adIds":["111"]}`, seedAd: "111", wantStatus: http.StatusBadGateway},
		{name: "upstream rejection", submitter: &fakeSubmitter{submitErr: &jobservice.RejectedError{StatusCode: 422, Body: "bad"}}, body: `{"adIds":["111"]}`, seedAd: "111", wantStatus: http.StatusBadGateway},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stack := newTestStack(t, tc.submitter)
			if tc.seedAd != "" {
				stack.seedWorkflow(t, "user-a", tc.seedAd)
			}
			w := stack.request(t, http.MethodPost, "/api/v1/ad-concepts", "user-a", tc.body)
			if w.Code != tc.wantStatus {
				t.Errorf("got %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRecipeEndpointNotReadyConcept(t *testing.T) {
	stack := newTestStack(t, &fakeSubmitter{})
	stack.seedWorkflow(t, "user-a", "111")

	// Create a product and submit a concept that stays pending.
	w := stack.request(t, http.MethodPost, "/api/v1/products", "user-a",
		`{"name":"Collagen Gummies","sales_url":"https://shop.example.com/collagen"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create product: got %d: %s", w.Code, w.Body.String())
	}
	var product domain.Product
	if err := json.Unmarshal(w.Body.Bytes(), &product); err != nil {
		t.Fatalf("bad product body: %v", err)
	}

	w = stack.request(t, http.MethodPost, "/api/v1/ad-concepts", "user-a", `{"adIds":["111"]}`)
	var resp struct {
		Concepts []domain.AdConcept `json:"concepts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Concepts) != 1 {
		t.Fatalf("concept submit failed: %d %s", w.Code, w.Body.String())
	}

	body := fmt.Sprintf(`{"name":"Too early","conceptIds":[%q],"productId":%q}`, resp.Concepts[0].ID, product.ID)
	w = stack.request(t, http.MethodPost, "/api/v1/ad-recipes", "user-a", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("pairing with pending concept: got %d, want 400: %s", w.Code, w.Body.String())
	}
}

// sseData returns the first JSON data event in an SSE response body.
func sseData(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			var event map[string]interface{}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				t.Fatalf("bad event payload: %v", err)
			}
			return event
		}
	}
	t.Fatalf("no data event in response: %q", body)
	return nil
}

func TestConceptStreamEventShape(t *testing.T) {
	stack := newTestStack(t, &fakeSubmitter{})
	now := time.Now().UTC()
	conceptID := uuid.New().String()
	if err := stack.db.Create(&domain.AdConcept{
		ID:          conceptID,
		UserID:      "user-a",
		AdArchiveID: "486517397763120",
		ImageURL:    "https://cdn.example.com/ad.jpg",
		TaskID:      "task-done",
		Status:      domain.StatusCompleted,
		ConceptJSON: domain.JSONMap{"headline": "X"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error; err != nil {
		t.Fatalf("seed concept failed: %v", err)
	}
	if err := stack.db.Create(&domain.Task{
		LocalID:     uuid.New().String(),
		TaskID:      "task-done",
		UserID:      "user-a",
		SubjectKind: domain.SubjectAdConcept,
		AdArchiveID: "486517397763120",
		EntityID:    conceptID,
		Status:      domain.StatusCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error; err != nil {
		t.Fatalf("seed task failed: %v", err)
	}

	w := stack.request(t, http.MethodGet, "/api/v1/ad-concepts/"+conceptID+"/stream", "user-a", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stream: got %d, want 200: %s", w.Code, w.Body.String())
	}
	event := sseData(t, w.Body.String())
	if event["id"] != conceptID {
		t.Errorf("event id: got %v, want %s", event["id"], conceptID)
	}
	if event["task_id"] != "task-done" {
		t.Errorf("event task_id: got %v, want task-done", event["task_id"])
	}
	if event["status"] != "completed" {
		t.Errorf("event status: got %v, want completed", event["status"])
	}
	doc, ok := event["concept_json"].(map[string]interface{})
	if !ok || doc["headline"] != "X" {
		t.Errorf("event concept_json: got %v", event["concept_json"])
	}
	if _, present := event["result"]; present {
		t.Errorf("event carries undocumented result key: %v", event)
	}
}

func TestRecipeStreamEventShape(t *testing.T) {
	stack := newTestStack(t, &fakeSubmitter{})
	now := time.Now().UTC()
	recipeID := uuid.New().String()
	if err := stack.db.Create(&domain.AdRecipe{
		ID:         recipeID,
		UserID:     "user-a",
		Name:       "Spring push",
		ConceptIDs: domain.StringArray{"c1"},
		ProductID:  "p1",
		TaskID:     "generate-done",
		Status:     domain.StatusCompleted,
		PromptJSON: domain.JSONMap{"system_prompt": "sys", "generated": map[string]interface{}{"image_prompt": "wide shot"}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}).Error; err != nil {
		t.Fatalf("seed recipe failed: %v", err)
	}
	if err := stack.db.Create(&domain.Task{
		LocalID:     uuid.New().String(),
		TaskID:      "generate-done",
		UserID:      "user-a",
		SubjectKind: domain.SubjectAdRecipe,
		EntityID:    recipeID,
		Status:      domain.StatusCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error; err != nil {
		t.Fatalf("seed task failed: %v", err)
	}

	w := stack.request(t, http.MethodGet, "/api/v1/ad-recipes/"+recipeID+"/stream", "user-a", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stream: got %d, want 200: %s", w.Code, w.Body.String())
	}
	event := sseData(t, w.Body.String())
	if event["id"] != recipeID {
		t.Errorf("event id: got %v, want %s", event["id"], recipeID)
	}
	if event["status"] != "completed" {
		t.Errorf("event status: got %v, want completed", event["status"])
	}
	doc, ok := event["prompt_json"].(map[string]interface{})
	if !ok || doc["system_prompt"] != "sys" {
		t.Errorf("event prompt_json: got %v", event["prompt_json"])
	}
}

func TestTaskEndpointOwnerScoped(t *testing.T) {
	stack := newTestStack(t, &fakeSubmitter{})
	stack.seedWorkflow(t, "user-a", "111")

	w := stack.request(t, http.MethodPost, "/api/v1/ad-concepts", "user-a", `{"adIds":["111"]}`)
	var resp struct {
		Concepts []domain.AdConcept `json:"concepts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Concepts) != 1 {
		t.Fatalf("concept submit failed: %d %s", w.Code, w.Body.String())
	}
	taskID := resp.Concepts[0].TaskID

	w = stack.request(t, http.MethodGet, "/api/v1/tasks/"+taskID, "user-a", "")
	if w.Code != http.StatusOK {
		t.Errorf("owner task read: got %d, want 200", w.Code)
	}
	w = stack.request(t, http.MethodGet, "/api/v1/tasks/"+taskID, "user-b", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign task read: got %d, want 404", w.Code)
	}
	w = stack.request(t, http.MethodGet, "/api/v1/tasks/nope", "user-a", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown task read: got %d, want 404", w.Code)
	}
}
