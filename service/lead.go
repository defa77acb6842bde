// Package service implements the lead workflows on top of the record and
// object stores.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phbpx/leadadmin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImageFolder is the object store folder lead photos are uploaded to.
const ImageFolder = "property-images"

var tracer = otel.Tracer("github.com/phbpx/leadadmin/service")

type Config struct {
	// MaxListSize caps the number of leads fetched by ListLeads.
	MaxListSize int
	// CallTimeout bounds every call made to a store.
	CallTimeout time.Duration
	// StagedTTL is how long a staged image waits to be submitted before it
	// is deleted.
	StagedTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxListSize <= 0 {
		c.MaxListSize = 100
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.StagedTTL <= 0 {
		c.StagedTTL = time.Hour
	}
	return c
}

// UploadFailure names a pending image that could not be uploaded.
type UploadFailure struct {
	Name string
	Err  error
}

func (f UploadFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Name, f.Err)
}

func (f UploadFailure) Unwrap() []error {
	return []error{leadadmin.ErrUploadFailed, f.Err}
}

type CreateResult struct {
	ID     string
	Images []leadadmin.ImageAttachment
	Failed []UploadFailure
}

type LeadService struct {
	records leadadmin.RecordStore
	objects leadadmin.ObjectStore
	log     *zap.SugaredLogger
	cfg     Config
	staged  *stagedImages

	now   func() time.Time
	newID func() string
}

func NewLeadService(records leadadmin.RecordStore, objects leadadmin.ObjectStore, log *zap.SugaredLogger, cfg Config) *LeadService {
	cfg = cfg.withDefaults()
	return &LeadService{
		records: records,
		objects: objects,
		log:     log,
		cfg:     cfg,
		staged:  newStagedImages(cfg.StagedTTL),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// ListLeads returns the newest leads first. A failing store is logged and
// answered with an empty list.
func (s *LeadService) ListLeads(ctx context.Context) []leadadmin.LeadRecord {
	ctx, span := tracer.Start(ctx, "service.ListLeads")
	defer span.End()

	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	leads, err := s.records.List(callCtx, s.cfg.MaxListSize)
	if err != nil {
		fetchFailures.Inc()
		fail(span, err)
		s.log.Errorw("ListLeads", "error", fmt.Errorf("%w: %v", leadadmin.ErrFetchFailed, err).Error())
		return []leadadmin.LeadRecord{}
	}
	if leads == nil {
		leads = []leadadmin.LeadRecord{}
	}

	span.SetAttributes(attribute.Int("leads.count", len(leads)))
	return leads
}

func (s *LeadService) GetLead(ctx context.Context, id string) (leadadmin.LeadRecord, error) {
	ctx, span := tracer.Start(ctx, "service.GetLead")
	defer span.End()

	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	lead, err := s.records.GetByID(callCtx, id)
	if err != nil {
		fail(span, err)
		return leadadmin.LeadRecord{}, err
	}
	return lead, nil
}

// CreateLead uploads the pending images and stores the lead. Images that
// fail to upload are reported in the result and left out of the record;
// they never stop the record from being stored. Images that are already
// uploaded must have been staged by StageImage and not submitted since.
// When the insert fails the images uploaded by this call are deleted again.
func (s *LeadService) CreateLead(ctx context.Context, input leadadmin.LeadInput, pending []leadadmin.PendingImage) (CreateResult, error) {
	ctx, span := tracer.Start(ctx, "service.CreateLead")
	defer span.End()

	if len(pending) > leadadmin.MaxImages {
		fail(span, leadadmin.ErrTooManyImages)
		return CreateResult{}, leadadmin.ErrTooManyImages
	}

	input = input.Normalize()
	if err := input.Validate(); err != nil {
		fail(span, err)
		return CreateResult{}, err
	}

	var staged []leadadmin.PendingImage
	for _, p := range pending {
		if p.Uploaded() {
			staged = append(staged, p)
		}
	}
	if bad, ok := s.staged.claim(staged, s.now()); !ok {
		err := notStaged(bad)
		fail(span, err)
		return CreateResult{}, err
	}

	images, uploaded, failed := s.uploadAll(ctx, pending)
	span.SetAttributes(
		attribute.Int("images.attached", len(images)),
		attribute.Int("images.failed", len(failed)),
	)

	lead := input.Record(s.newID(), images, s.now())

	callCtx, cancel := s.callCtx(ctx)
	id, err := s.records.Insert(callCtx, lead)
	cancel()
	if err != nil {
		fail(span, err)
		s.log.Errorw("CreateLead", "status", "insert failed", "error", err.Error())
		s.deleteObjects(ctx, "CreateLead", uploaded)
		s.staged.release(staged, s.now())
		return CreateResult{Failed: failed}, fmt.Errorf("%w: %w", leadadmin.ErrCreateFailed, err)
	}

	leadsCreated.Inc()
	s.log.Infow("CreateLead", "id", id, "images", len(images), "failedImages", len(failed))

	return CreateResult{ID: id, Images: images, Failed: failed}, nil
}

// uploadAll uploads every pending image that is not in the object store yet.
// It returns the attachments in input order, the paths uploaded by this
// call and the failures.
func (s *LeadService) uploadAll(ctx context.Context, pending []leadadmin.PendingImage) ([]leadadmin.ImageAttachment, []string, []UploadFailure) {
	results := make([]leadadmin.ImageAttachment, len(pending))
	errs := make([]error, len(pending))
	fresh := make([]bool, len(pending))

	var g errgroup.Group
	for i, p := range pending {
		if p.Uploaded() {
			results[i] = p.Attachment()
			continue
		}

		i, p := i, p
		fresh[i] = true
		g.Go(func() error {
			staged, err := s.upload(ctx, p)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = staged.Attachment()
			return nil
		})
	}
	g.Wait()

	images := make([]leadadmin.ImageAttachment, 0, len(pending))
	var uploaded []string
	var failed []UploadFailure
	for i := range pending {
		if errs[i] != nil {
			failed = append(failed, UploadFailure{Name: pending[i].Name, Err: errs[i]})
			continue
		}
		images = append(images, results[i])
		if fresh[i] {
			uploaded = append(uploaded, results[i].Path)
		}
	}
	return images, uploaded, failed
}

// StageImage uploads an image before the lead is submitted.
func (s *LeadService) StageImage(ctx context.Context, img leadadmin.PendingImage) (leadadmin.PendingImage, error) {
	ctx, span := tracer.Start(ctx, "service.StageImage")
	defer span.End()

	if img.Uploaded() {
		return img, nil
	}

	s.deleteObjects(ctx, "StageImage", s.staged.expired(s.now()))

	staged, err := s.upload(ctx, img)
	if err != nil {
		fail(span, err)
		return leadadmin.PendingImage{}, UploadFailure{Name: img.Name, Err: err}
	}

	s.staged.add(staged, s.now())
	return staged, nil
}

func (s *LeadService) upload(ctx context.Context, img leadadmin.PendingImage) (leadadmin.PendingImage, error) {
	if len(img.Data) == 0 {
		uploadFailures.Inc()
		return leadadmin.PendingImage{}, errors.New("empty image")
	}

	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	path, url, err := s.objects.Upload(callCtx, ImageFolder, img.Name, img.ContentType, bytes.NewReader(img.Data), int64(len(img.Data)))
	if err != nil {
		uploadFailures.Inc()
		s.log.Errorw("upload", "image", img.Name, "error", err.Error())
		return leadadmin.PendingImage{}, err
	}

	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	img.Path = path
	img.URL = url
	img.Data = nil
	return img, nil
}

// RemovePendingImage drops the image with the given id from the pending set
// and deletes its stored binary. A failed delete is only logged; the image
// is removed from the returned set either way. An uploaded image that was
// not staged by StageImage is refused and nothing is deleted. pending is not
// modified.
func (s *LeadService) RemovePendingImage(ctx context.Context, pending []leadadmin.PendingImage, id string) ([]leadadmin.PendingImage, error) {
	ctx, span := tracer.Start(ctx, "service.RemovePendingImage")
	defer span.End()

	out := make([]leadadmin.PendingImage, 0, len(pending))
	var removed []leadadmin.PendingImage
	for _, p := range pending {
		if p.ID != id {
			out = append(out, p)
			continue
		}
		if p.Uploaded() {
			removed = append(removed, p)
		}
	}

	if bad, ok := s.staged.claim(removed, s.now()); !ok {
		err := notStaged(bad)
		fail(span, err)
		return nil, err
	}

	paths := make([]string, len(removed))
	for i, p := range removed {
		paths[i] = p.Path
	}
	s.deleteObjects(ctx, "RemovePendingImage", paths)
	return out, nil
}

func notStaged(img leadadmin.PendingImage) error {
	return &leadadmin.ValidationError{
		Fields: map[string]string{"images": img.Name + " was not staged for upload"},
	}
}

// DeleteLead deletes the lead's images and then the lead itself. Only a
// failure to delete the record is reported; images that cannot be deleted
// are logged and left behind. Deleting a lead that is already gone succeeds.
func (s *LeadService) DeleteLead(ctx context.Context, lead leadadmin.LeadRecord) error {
	ctx, span := tracer.Start(ctx, "service.DeleteLead")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", lead.ID))

	var paths []string
	for _, img := range lead.Images {
		if img.Path != "" {
			paths = append(paths, img.Path)
		}
	}
	s.deleteObjects(ctx, "DeleteLead", paths)

	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	err := s.records.DeleteByID(callCtx, lead.ID)
	switch {
	case err == nil:
	case errors.Is(err, leadadmin.ErrLeadNotFound):
		s.log.Infow("DeleteLead", "id", lead.ID, "status", "already deleted")
	default:
		fail(span, err)
		s.log.Errorw("DeleteLead", "id", lead.ID, "error", err.Error())
		return fmt.Errorf("%w: %w", leadadmin.ErrDeleteFailed, err)
	}

	leadsDeleted.Inc()
	return nil
}

// DeleteLeadByID looks the lead up and deletes it. An unknown id counts as
// already deleted.
func (s *LeadService) DeleteLeadByID(ctx context.Context, id string) error {
	lead, err := s.GetLead(ctx, id)
	if err != nil {
		if errors.Is(err, leadadmin.ErrLeadNotFound) {
			leadsDeleted.Inc()
			return nil
		}
		return fmt.Errorf("%w: %w", leadadmin.ErrDeleteFailed, err)
	}
	return s.DeleteLead(ctx, lead)
}

// deleteObjects deletes every path concurrently. Failures are logged and
// counted as orphaned objects.
func (s *LeadService) deleteObjects(ctx context.Context, op string, paths []string) {
	var g errgroup.Group
	for _, path := range paths {
		path := path
		g.Go(func() error {
			callCtx, cancel := s.callCtx(ctx)
			defer cancel()

			if err := s.objects.Delete(callCtx, path); err != nil {
				orphanedObjects.Inc()
				s.log.Warnw(op, "status", "orphaned object", "path", path, "error", err.Error())
			}
			return nil
		})
	}
	g.Wait()
}

func (s *LeadService) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
