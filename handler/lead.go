package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/service"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

const (
	// MaxImageSize is the largest photo accepted per file.
	MaxImageSize = 10 << 20

	// Whole request limits, leaving one image worth of room for the other
	// form fields and multipart framing.
	maxLeadBody  = (leadadmin.MaxImages + 1) * MaxImageSize
	maxStageBody = 2 * MaxImageSize

	maxFormMemory = 32 << 20
)

type LeadHandler struct {
	service *service.LeadService
	log     *otelzap.SugaredLogger
}

func NewLeadHandler(svc *service.LeadService, log *otelzap.SugaredLogger) *LeadHandler {
	return &LeadHandler{
		service: svc,
		log:     log,
	}
}

type leadList struct {
	Count int                    `json:"count"`
	Total int                    `json:"total"`
	Leads []leadadmin.LeadRecord `json:"leads"`
}

// List answers GET /leads?q=<term>&type=<all|Sell|Buy>.
func (lh LeadHandler) List(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	all := lh.service.ListLeads(ctx)
	filter := leadadmin.Filter{
		Term: r.URL.Query().Get("q"),
		Type: r.URL.Query().Get("type"),
	}
	leads := filter.Apply(all)

	respond(ctx, rw, http.StatusOK, leadList{
		Count: len(leads),
		Total: len(all),
		Leads: leads,
	})
}

func (lh LeadHandler) GetByID(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("ID is not in its proper form"))
		return
	}

	lead, err := lh.service.GetLead(ctx, id.String())
	if err != nil {
		lh.log.Ctx(ctx).Errorw("GetByID", "error", err.Error())
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	respond(ctx, rw, http.StatusOK, lead)
}

type uploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type createdLead struct {
	ID     string                      `json:"id"`
	Images []leadadmin.ImageAttachment `json:"images"`
	Failed []uploadFailure             `json:"failed"`
}

// Create answers a multipart POST /leads. The lead fields are plain form
// values, new photos are "images" file parts and photos staged earlier
// through /uploads come as a JSON array in "staged".
func (lh LeadHandler) Create(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if status, err := parseForm(rw, r, maxLeadBody); err != nil {
		respondErr(ctx, rw, status, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	input := leadadmin.LeadInput{
		Name:            r.FormValue("name"),
		Title:           leadadmin.Title(r.FormValue("title")),
		TransactionType: leadadmin.TransactionType(r.FormValue("transaction_type")),
		City:            r.FormValue("city"),
		District:        r.FormValue("district"),
		Property:        r.FormValue("property"),
	}

	var pending []leadadmin.PendingImage
	if staged := r.FormValue("staged"); staged != "" {
		if err := json.Unmarshal([]byte(staged), &pending); err != nil {
			respondErr(ctx, rw, http.StatusBadRequest, fmt.Errorf("reading staged images: %w", err))
			return
		}
	}

	for _, fh := range r.MultipartForm.File["images"] {
		img, err := readImage(fh)
		if err != nil {
			respondErr(ctx, rw, http.StatusBadRequest, err)
			return
		}
		pending = append(pending, img)
	}

	res, err := lh.service.CreateLead(ctx, input, pending)
	if err != nil {
		lh.log.Ctx(ctx).Errorw("Create", "error", err.Error())
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	out := createdLead{
		ID:     res.ID,
		Images: res.Images,
		Failed: []uploadFailure{},
	}
	for _, f := range res.Failed {
		lh.log.Ctx(ctx).Warnw("Create", "id", res.ID, "image", f.Name, "error", f.Err.Error())
		out.Failed = append(out.Failed, uploadFailure{Name: f.Name, Error: f.Err.Error()})
	}

	respond(ctx, rw, http.StatusCreated, out)
}

func (lh LeadHandler) Delete(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("ID is not in its proper form"))
		return
	}

	if err := lh.service.DeleteLeadByID(ctx, id.String()); err != nil {
		lh.log.Ctx(ctx).Errorw("Delete", "id", id.String(), "error", err.Error())
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	respond(ctx, rw, http.StatusNoContent, nil)
}

// parseForm reads a multipart body of at most limit bytes. On failure it
// returns the status to answer with.
func parseForm(rw http.ResponseWriter, r *http.Request, limit int64) (int, error) {
	tooLarge := fmt.Errorf("request body exceeds %d bytes", limit)
	if r.ContentLength > limit {
		return http.StatusRequestEntityTooLarge, tooLarge
	}

	r.Body = http.MaxBytesReader(rw, r.Body, limit)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, tooLarge
		}
		return http.StatusBadRequest, fmt.Errorf("reading form: %w", err)
	}
	return 0, nil
}

// readImage loads one uploaded file part, rejecting anything that is not an
// image or is larger than MaxImageSize.
func readImage(fh *multipart.FileHeader) (leadadmin.PendingImage, error) {
	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return leadadmin.PendingImage{}, &leadadmin.ValidationError{
			Fields: map[string]string{"images": fh.Filename + " is not an image"},
		}
	}
	if fh.Size > MaxImageSize {
		return leadadmin.PendingImage{}, &leadadmin.ValidationError{
			Fields: map[string]string{"images": fh.Filename + " is too large"},
		}
	}

	f, err := fh.Open()
	if err != nil {
		return leadadmin.PendingImage{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageSize+1))
	if err != nil {
		return leadadmin.PendingImage{}, err
	}
	if len(data) > MaxImageSize {
		return leadadmin.PendingImage{}, &leadadmin.ValidationError{
			Fields: map[string]string{"images": fh.Filename + " is too large"},
		}
	}

	return leadadmin.PendingImage{
		ID:          uuid.NewString(),
		Name:        fh.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}
