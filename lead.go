package leadadmin

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/phbpx/leadadmin/location"
)

// MaxImages is the number of photos a single lead can carry.
const MaxImages = 3

// Title is the honorific stored next to the client's name.
type Title string

const (
	TitleMr  Title = "Mr."
	TitleMrs Title = "Mrs."
	TitleMs  Title = "Ms."
)

// TransactionType tells whether the client wants to sell or to buy.
type TransactionType string

const (
	TransactionSell TransactionType = "Sell"
	TransactionBuy  TransactionType = "Buy"
)

type ImageAttachment struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

type LeadRecord struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Title           Title             `json:"title"`
	TransactionType TransactionType   `json:"transaction_type"`
	City            string            `json:"city"`
	District        string            `json:"district"`
	Property        string            `json:"property"`
	Images          []ImageAttachment `json:"images"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       *time.Time        `json:"updated_at,omitempty"`
}

// LeadInput is what a user fills in before submitting a lead.
type LeadInput struct {
	Name            string          `json:"name" validate:"required"`
	Title           Title           `json:"title" validate:"omitempty,oneof=Mr. Mrs. Ms."`
	TransactionType TransactionType `json:"transaction_type" validate:"omitempty,oneof=Sell Buy"`
	City            string          `json:"city"`
	District        string          `json:"district"`
	Property        string          `json:"property" validate:"required"`
}

// SetCity changes the city and clears the district, which only makes sense
// relative to the previous city.
func (in *LeadInput) SetCity(city string) {
	if in.City == city {
		return
	}
	in.City = city
	in.District = ""
}

// Normalize trims the free text fields and fills in the enum defaults.
func (in LeadInput) Normalize() LeadInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Property = strings.TrimSpace(in.Property)
	in.City = strings.TrimSpace(in.City)
	in.District = strings.TrimSpace(in.District)
	if in.Title == "" {
		in.Title = TitleMr
	}
	if in.TransactionType == "" {
		in.TransactionType = TransactionSell
	}
	return in
}

// Validate checks required fields, enums and the city/district pair.
func (in LeadInput) Validate() error {
	verr := &ValidationError{}
	if err := validate.Struct(in); err != nil {
		verr.addValidatorErrors(err)
	}
	switch {
	case in.District != "" && in.City == "":
		verr.Add("district", "requires a city")
	case in.City != "" && !location.HasCity(in.City):
		verr.Add("city", "unknown city")
	case !location.Valid(in.City, in.District):
		verr.Add("district", "does not belong to "+in.City)
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// Record builds the record that will be stored for this input.
func (in LeadInput) Record(id string, images []ImageAttachment, createdAt time.Time) LeadRecord {
	if images == nil {
		images = []ImageAttachment{}
	}
	return LeadRecord{
		ID:              id,
		Name:            in.Name,
		Title:           in.Title,
		TransactionType: in.TransactionType,
		City:            in.City,
		District:        in.District,
		Property:        in.Property,
		Images:          images,
		CreatedAt:       createdAt,
	}
}

// PendingImage is a photo picked for a lead that has not been submitted yet.
// It either carries the binary (Data) or, once staged, the object store
// Path and URL.
type PendingImage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
}

func (p PendingImage) Uploaded() bool {
	return p.Path != ""
}

func (p PendingImage) Attachment() ImageAttachment {
	return ImageAttachment{URL: p.URL, Path: p.Path, Name: p.Name}
}

type RecordStore interface {
	Insert(ctx context.Context, lead LeadRecord) (string, error)
	List(ctx context.Context, limit int) ([]LeadRecord, error)
	GetByID(ctx context.Context, id string) (LeadRecord, error)
	Update(ctx context.Context, lead LeadRecord) error
	DeleteByID(ctx context.Context, id string) error
}

type ObjectStore interface {
	Upload(ctx context.Context, folder, name, contentType string, body io.Reader, size int64) (path, url string, err error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
}

type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Identity interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Session(ctx context.Context, accessToken string) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
	OnSessionChange(fn func(*Session)) (unsubscribe func())
}
