package leadadmin

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrValidation         = errors.New("invalid lead")
	ErrTooManyImages      = fmt.Errorf("%w: at most %d images per lead", ErrValidation, MaxImages)
	ErrUploadFailed       = errors.New("image upload failed")
	ErrCreateFailed       = errors.New("create lead failed")
	ErrDeleteFailed       = errors.New("delete lead failed")
	ErrFetchFailed        = errors.New("fetch leads failed")
	ErrLeadNotFound       = errors.New("lead not found")
	ErrStaleSession       = errors.New("session missing or expired")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailUnconfirmed   = errors.New("email not confirmed")
	ErrDuplicatedUser     = errors.New("email already in use")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError collects the problems found in a LeadInput. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (v *ValidationError) Add(field, msg string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	if _, ok := v.Fields[field]; ok {
		return
	}
	v.Fields[field] = msg
}

func (v *ValidationError) Empty() bool {
	return len(v.Fields) == 0
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + v.Fields[k]
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (v *ValidationError) addValidatorErrors(err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.Add("input", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			v.Add(fe.Field(), "is required")
		case "oneof":
			v.Add(fe.Field(), "must be one of "+fe.Param())
		default:
			v.Add(fe.Field(), "failed "+fe.Tag())
		}
	}
}
