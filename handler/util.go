package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/auth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const maxJSONBody = 1 << 20

func decode(r *http.Request, into interface{}) error {
	rawJson, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(rawJson, into)
}

func respond(ctx context.Context, rw http.ResponseWriter, status int, data interface{}) {
	_, span := otel.GetTracerProvider().Tracer("").Start(ctx, "handler.respond")
	span.SetAttributes(attribute.Int("http.status", status))
	defer span.End()

	if status == http.StatusNoContent || data == nil {
		rw.WriteHeader(status)
		return
	}

	rawJson, err := json.Marshal(data)
	if err != nil {
		panic("respond-json-marshal:" + err.Error())
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(rawJson)
}

func respondErr(ctx context.Context, rw http.ResponseWriter, status int, err error) {
	body := map[string]interface{}{
		"code":  http.StatusText(status),
		"error": err.Error(),
	}

	var verr *leadadmin.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}

	respond(ctx, rw, status, body)
}

// statusFor maps the service errors to the status the client sees.
func statusFor(err error) int {
	switch {
	case errors.Is(err, leadadmin.ErrValidation),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, leadadmin.ErrDuplicatedUser):
		return http.StatusConflict
	case errors.Is(err, leadadmin.ErrLeadNotFound):
		return http.StatusNotFound
	case errors.Is(err, leadadmin.ErrStaleSession),
		errors.Is(err, leadadmin.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, leadadmin.ErrEmailUnconfirmed):
		return http.StatusForbidden
	case errors.Is(err, leadadmin.ErrCreateFailed),
		errors.Is(err, leadadmin.ErrDeleteFailed),
		errors.Is(err, leadadmin.ErrUploadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
