package content

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/domain/eventlog"
	"github.com/Zhima-Mochi/repoevents/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	contentService = "content-service"
	spanPrefix     = "UC."

	useCaseCreate         = "content.create"
	useCaseUpdateMetadata = "content.update_metadata"
	useCaseRename         = "content.rename"
	useCaseDelete         = "content.delete"
)

var (
	ErrValidation = errors.New("content: validation failed")
	ErrRepository = errors.New("content: repository failure")
)

// Service runs the mutations of the repository hierarchy. Every mutation
// records its events on the caller's unit of work; delivery happens when the
// caller commits.
type Service struct {
	repo        domain.Repository
	idGenerator IDGenerator
	tel         observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewService(repo domain.Repository, idGen IDGenerator, tel observability.Observability) *Service {
	tel = observability.OrNop(tel)
	m := tel.Metrics()
	return &Service{
		repo:         repo,
		idGenerator:  idGen,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", contentService)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
	}
}

type CreateInput struct {
	Type     event.SubjectType
	Name     string
	Handle   string
	ParentID string
	Metadata map[string][]string
}

// Create stores a new object. It records CREATE on the object and, when it
// has a parent, ADD on the parent.
func (s *Service) Create(ctx context.Context, rec eventlog.Recorder, in CreateInput) (_ *domain.Object, err error) {
	ctx, c := s.begin(ctx, useCaseCreate, "Create",
		attribute.String("content.type", in.Type.String()),
		attribute.String("content.parent_id", in.ParentID),
	)
	defer func() { c.done(err) }()

	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown object type", ErrValidation)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var parent *domain.Object
	if in.ParentID != "" {
		if parent, err = s.repo.Get(ctx, in.ParentID); err != nil {
			return nil, wrapRepositoryError(err)
		}
	}

	obj, err := domain.New(s.idGenerator.NewID(), in.Type, in.Name, in.Handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := obj.Attach(parent); err != nil {
		return nil, err
	}
	for field, values := range in.Metadata {
		obj.SetMetadata(field, values)
	}
	if err := s.repo.Insert(ctx, obj); err != nil {
		return nil, wrapRepositoryError(err)
	}
	c.span.SetAttributes(attribute.String("content.id", obj.ID))

	if err := c.record(rec, event.MustNew(event.Create, obj.Type, obj.ID)); err != nil {
		return nil, err
	}
	if parent != nil {
		add := event.MustNew(event.Add, parent.Type, parent.ID, event.WithObject(obj.Type, obj.ID))
		if err := c.record(rec, add); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// UpdateMetadata replaces the values of one field; no values clears it. It
// records MODIFY_METADATA with the field as detail.
func (s *Service) UpdateMetadata(ctx context.Context, rec eventlog.Recorder, id, field string, values []string) (_ *domain.Object, err error) {
	ctx, c := s.begin(ctx, useCaseUpdateMetadata, "UpdateMetadata",
		attribute.String("content.id", id),
		attribute.String("content.field", field),
	)
	defer func() { c.done(err) }()

	if field == "" {
		return nil, fmt.Errorf("%w: metadata field is required", ErrValidation)
	}
	obj, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	obj.SetMetadata(field, values)
	if err := s.repo.Update(ctx, obj); err != nil {
		return nil, wrapRepositoryError(err)
	}
	e := event.MustNew(event.ModifyMetadata, obj.Type, obj.ID, event.WithDetail(field))
	if err := c.record(rec, e); err != nil {
		return nil, err
	}
	return obj, nil
}

// Rename changes the object name and records MODIFY.
func (s *Service) Rename(ctx context.Context, rec eventlog.Recorder, id, name string) (_ *domain.Object, err error) {
	ctx, c := s.begin(ctx, useCaseRename, "Rename", attribute.String("content.id", id))
	defer func() { c.done(err) }()

	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	obj, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	if obj.Name == name {
		return obj, nil
	}
	obj.Rename(name)
	if err := s.repo.Update(ctx, obj); err != nil {
		return nil, wrapRepositoryError(err)
	}
	if err := c.record(rec, event.MustNew(event.Modify, obj.Type, obj.ID)); err != nil {
		return nil, err
	}
	return obj, nil
}

// Delete removes an object and everything below it, children first. Each
// removed object gets REMOVE on its parent followed by DELETE on itself. It
// returns the number of removed objects.
func (s *Service) Delete(ctx context.Context, rec eventlog.Recorder, id string) (_ int, err error) {
	ctx, c := s.begin(ctx, useCaseDelete, "Delete", attribute.String("content.id", id))
	defer func() { c.done(err) }()

	obj, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, wrapRepositoryError(err)
	}
	removed, err := s.deleteTree(ctx, c, rec, obj)
	c.span.SetAttributes(attribute.Int("content.removed", removed))
	return removed, err
}

func (s *Service) deleteTree(ctx context.Context, c *call, rec eventlog.Recorder, obj *domain.Object) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	children, err := s.repo.Children(ctx, obj.ID)
	if err != nil {
		return 0, wrapRepositoryError(err)
	}
	removed := 0
	for _, child := range children {
		n, err := s.deleteTree(ctx, c, rec, child)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	if err := s.repo.Delete(ctx, obj.ID); err != nil {
		return removed, wrapRepositoryError(err)
	}
	removed++

	if obj.ParentID != "" {
		parent, err := s.repo.Get(ctx, obj.ParentID)
		if err != nil {
			return removed, wrapRepositoryError(err)
		}
		remove := event.MustNew(event.Remove, parent.Type, parent.ID, event.WithObject(obj.Type, obj.ID))
		if err := c.record(rec, remove); err != nil {
			return removed, err
		}
	}
	if err := c.record(rec, event.MustNew(event.Delete, obj.Type, obj.ID)); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Object, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrValidation)
	}
	obj, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return obj, nil
}

func (s *Service) Children(ctx context.Context, id string) ([]*domain.Object, error) {
	objs, err := s.repo.Children(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return objs, nil
}

func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
