package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/repository"
	"github.com/timmy/adforge/internal/storage"
)

// ConceptSubmitter submits extraction jobs; satisfied by *jobservice.Client.
type ConceptSubmitter interface {
	SubmitConceptExtraction(ctx context.Context, imageURL, adType string) (string, error)
}

// ConceptService submits creative-concept extraction jobs for scraped ads and
// reads concepts back for the dashboard. Submission resolves ad ids through
// the requesting user's workflows, optionally snapshots the creative into
// object storage, and hands each accepted job to the stream relay.
type ConceptService struct {
	submitter ConceptSubmitter
	workflows *repository.WorkflowRepository
	concepts  *repository.ConceptRepository
	store     *StoreAdapter
	registry  *TaskRegistry
	relay     *StreamRelay
	archive   storage.CreativeArchive
}

// NewConceptService creates a new ConceptService.
// Parameters:
//   - submitter: extraction job submitter.
//   - workflows: workflow repository for ad resolution.
//   - concepts: concept repository for reads.
//   - store: concept/recipe store adapter.
//   - registry: task registry service.
//   - relay: stream relay owning upstream subscriptions.
//   - archive: creative snapshot store, nil to serve original URLs.
// Returns:
//   - *ConceptService: initialized service.
func NewConceptService(
	submitter ConceptSubmitter,
	workflows *repository.WorkflowRepository,
	concepts *repository.ConceptRepository,
	store *StoreAdapter,
	registry *TaskRegistry,
	relay *StreamRelay,
	archive storage.CreativeArchive,
) *ConceptService {
	return &ConceptService{
		submitter: submitter,
		workflows: workflows,
		concepts:  concepts,
		store:     store,
		registry:  registry,
		relay:     relay,
		archive:   archive,
	}
}

type resolvedAd struct {
	adArchiveID string
	imageURL    string
	adType      string
}

// SubmitConcepts submits one extraction job per requested ad. Resolution is
// all-or-nothing: if any ad id cannot be found in the user's workflows,
// nothing is submitted. Submission itself is sequential; an upstream failure
// mid-batch aborts the rest, and the pending rows created so far keep their
// own task lifecycles.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: requesting user.
//   - adIDs: ad archive ids from the user's scraped workflows.
// Returns:
//   - []domain.AdConcept: pending concept rows created, in request order.
//   - error: ErrInvalidInput, upstream submit errors, or store errors.
func (s *ConceptService) SubmitConcepts(ctx context.Context, userID string, adIDs []string) ([]domain.AdConcept, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	if len(adIDs) == 0 {
		return nil, invalidInput("at least one ad id is required")
	}
	for _, id := range adIDs {
		if id == "" {
			return nil, invalidInput("ad id must not be empty")
		}
	}

	// Resolve every ad before submitting anything.
	resolved := make([]resolvedAd, 0, len(adIDs))
	for _, adID := range adIDs {
		ad, found, err := s.workflows.FindAd(ctx, userID, adID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, invalidInput("ad %s not found in your workflows", adID)
		}
		if ad.ImageURL == "" {
			return nil, invalidInput("ad %s has no creative image", adID)
		}
		adType := ad.AdType
		if adType == "" {
			adType = "image"
		}
		resolved = append(resolved, resolvedAd{
			adArchiveID: ad.AdArchiveID,
			imageURL:    s.snapshotURL(ctx, ad.AdArchiveID, ad.ImageURL),
			adType:      adType,
		})
	}

	created := make([]domain.AdConcept, 0, len(resolved))
	for _, ad := range resolved {
		adCtx := logger.WithField(ctx, logger.FieldAdArchiveID, ad.adArchiveID)

		taskID, err := s.submitter.SubmitConceptExtraction(adCtx, ad.imageURL, ad.adType)
		if err != nil {
			logger.CtxError(adCtx, "Concept extraction submit failed: error=%v", err)
			return created, err
		}

		// Task row first: startup reconciliation walks tasks, so a crash
		// between the two writes leaves nothing unreachable.
		conceptID := uuid.New().String()
		if _, err := s.registry.Register(adCtx, &domain.Task{
			TaskID:      taskID,
			UserID:      userID,
			SubjectKind: domain.SubjectAdConcept,
			AdArchiveID: ad.adArchiveID,
			EntityID:    conceptID,
			Status:      domain.StatusPending,
		}); err != nil {
			return created, err
		}

		concept, err := s.store.CreatePendingConcept(adCtx, conceptID, ad.adArchiveID, ad.imageURL, taskID, userID)
		if err != nil {
			return created, err
		}

		s.relay.EnsureSubscription(taskID)
		logger.CtxInfo(adCtx, "Concept extraction submitted: task_id=%s, concept_id=%s", taskID, concept.ID)
		created = append(created, *concept)
	}
	return created, nil
}

// snapshotURL archives the creative and returns the archived URL. Snapshot
// failures fall back to the original URL; the extraction job can still run
// against it.
func (s *ConceptService) snapshotURL(ctx context.Context, adArchiveID, imageURL string) string {
	if s.archive == nil {
		return imageURL
	}
	archived, err := s.archive.SnapshotCreative(ctx, adArchiveID, imageURL)
	if err != nil {
		logger.CtxWarn(ctx, "Creative snapshot failed, using original URL: ad_archive_id=%s, error=%v", adArchiveID, err)
		return imageURL
	}
	return archived
}

// ListByAdIDs returns the latest concept per requested ad archive id for the
// user, in request order, omitting ads never submitted. Concepts still in
// flight get their upstream subscription restored if this process lost it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: requesting user.
//   - adIDs: ad archive ids to look up.
// Returns:
//   - []domain.AdConcept: matching concepts.
//   - error: ErrInvalidInput or store errors.
func (s *ConceptService) ListByAdIDs(ctx context.Context, userID string, adIDs []string) ([]domain.AdConcept, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	if len(adIDs) == 0 {
		return nil, invalidInput("at least one ad id is required")
	}
	concepts, err := s.concepts.ListByAdArchiveIDs(ctx, userID, adIDs)
	if err != nil {
		return nil, err
	}
	for i := range concepts {
		if !concepts[i].Status.Terminal() {
			s.relay.EnsureSubscription(concepts[i].TaskID)
		}
	}
	return concepts, nil
}

// Get returns a single concept owned by the user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: requesting user.
//   - id: concept row id.
// Returns:
//   - *domain.AdConcept: the concept.
//   - error: ErrNotFound, ErrForbidden, or store errors.
func (s *ConceptService) Get(ctx context.Context, userID, id string) (*domain.AdConcept, error) {
	concept, err := s.concepts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("concept %s", id)
		}
		return nil, err
	}
	if concept.UserID != userID {
		return nil, ErrForbidden
	}
	return concept, nil
}
