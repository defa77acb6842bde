package handler

import (
	"errors"
	"net/http"

	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/service"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// UploadHandler lets the form upload photos before the lead is submitted
// and take them back again.
type UploadHandler struct {
	service *service.LeadService
	log     *otelzap.SugaredLogger
}

func NewUploadHandler(svc *service.LeadService, log *otelzap.SugaredLogger) *UploadHandler {
	return &UploadHandler{
		service: svc,
		log:     log,
	}
}

func (uh UploadHandler) Stage(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if status, err := parseForm(rw, r, maxStageBody); err != nil {
		respondErr(ctx, rw, status, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["image"]
	if len(files) != 1 {
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("exactly one image is required"))
		return
	}

	img, err := readImage(files[0])
	if err != nil {
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	staged, err := uh.service.StageImage(ctx, img)
	if err != nil {
		uh.log.Ctx(ctx).Errorw("Stage", "image", img.Name, "error", err.Error())
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	respond(ctx, rw, http.StatusCreated, staged)
}

type removeRequest struct {
	ID      string                   `json:"id"`
	Pending []leadadmin.PendingImage `json:"pending"`
}

type pendingList struct {
	Pending []leadadmin.PendingImage `json:"pending"`
}

// Remove takes the pending set held by the form and returns it without the
// image named by id. The stored binary is deleted on a best-effort basis.
func (uh UploadHandler) Remove(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req removeRequest
	if err := decode(r, &req); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("id is required"))
		return
	}

	remaining, err := uh.service.RemovePendingImage(ctx, req.Pending, req.ID)
	if err != nil {
		uh.log.Ctx(ctx).Warnw("Remove", "id", req.ID, "error", err.Error())
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	respond(ctx, rw, http.StatusOK, pendingList{Pending: remaining})
}
