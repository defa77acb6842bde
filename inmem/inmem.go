// Package inmem provides process-local record and object stores. They back
// the tests and let the service run without Postgres or S3.
package inmem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/auth"
)

var (
	_ leadadmin.RecordStore = (*RecordStore)(nil)
	_ leadadmin.ObjectStore = (*ObjectStore)(nil)
	_ auth.UserStore        = (*UserStore)(nil)
)

type RecordStore struct {
	mu    sync.Mutex
	leads map[string]leadadmin.LeadRecord

	// InsertErr and DeleteErr, when set, fail the matching call.
	InsertErr func(lead leadadmin.LeadRecord) error
	DeleteErr func(id string) error
}

func NewRecordStore() *RecordStore {
	return &RecordStore{leads: make(map[string]leadadmin.LeadRecord)}
}

func (s *RecordStore) Insert(ctx context.Context, lead leadadmin.LeadRecord) (string, error) {
	if s.InsertErr != nil {
		if err := s.InsertErr(lead); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	s.leads[lead.ID] = cloneLead(lead)
	return lead.ID, nil
}

func (s *RecordStore) List(ctx context.Context, limit int) ([]leadadmin.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]leadadmin.LeadRecord, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, cloneLead(l))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RecordStore) GetByID(ctx context.Context, id string) (leadadmin.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[id]
	if !ok {
		return leadadmin.LeadRecord{}, leadadmin.ErrLeadNotFound
	}
	return cloneLead(l), nil
}

func (s *RecordStore) Update(ctx context.Context, lead leadadmin.LeadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[lead.ID]; !ok {
		return leadadmin.ErrLeadNotFound
	}
	s.leads[lead.ID] = cloneLead(lead)
	return nil
}

func (s *RecordStore) DeleteByID(ctx context.Context, id string) error {
	if s.DeleteErr != nil {
		if err := s.DeleteErr(id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[id]; !ok {
		return leadadmin.ErrLeadNotFound
	}
	delete(s.leads, id)
	return nil
}

func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

func cloneLead(l leadadmin.LeadRecord) leadadmin.LeadRecord {
	l.Images = append([]leadadmin.ImageAttachment{}, l.Images...)
	return l
}

// ObjectStore keeps uploaded binaries in a map keyed by path and records
// every call made to it. It also serves the binaries over HTTP, so the
// public URLs it hands out resolve when mounted under BaseURL.
type ObjectStore struct {
	BaseURL string

	// UploadErr and DeleteErr, when set, fail the matching call.
	UploadErr func(name string) error
	DeleteErr func(path string) error

	mu      sync.Mutex
	objects map[string]object
	uploads []string
	deletes []string
}

func NewObjectStore(baseURL string) *ObjectStore {
	return &ObjectStore{
		BaseURL: baseURL,
		objects: make(map[string]object),
	}
}

type object struct {
	data        []byte
	contentType string
}

func (s *ObjectStore) Upload(ctx context.Context, folder, name, contentType string, body io.Reader, size int64) (string, string, error) {
	s.mu.Lock()
	s.uploads = append(s.uploads, name)
	s.mu.Unlock()

	if s.UploadErr != nil {
		if err := s.UploadErr(name); err != nil {
			return "", "", err
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", "", err
	}

	key := fmt.Sprintf("%s/%s%s", folder, uuid.NewString(), path.Ext(name))

	s.mu.Lock()
	s.objects[key] = object{data: buf.Bytes(), contentType: contentType}
	s.mu.Unlock()

	return key, s.PublicURL(key), nil
}

func (s *ObjectStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, path)
	s.mu.Unlock()

	if s.DeleteErr != nil {
		if err := s.DeleteErr(path); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.objects, path)
	s.mu.Unlock()
	return nil
}

func (s *ObjectStore) PublicURL(path string) string {
	return s.BaseURL + "/" + path
}

func (s *ObjectStore) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}

// Put stores an object directly, bypassing the upload hooks.
func (s *ObjectStore) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = object{data: data, contentType: http.DetectContentType(data)}
}

// ServeHTTP answers GET requests for a stored object. The request path,
// without its leading slash, is the object path.
func (s *ObjectStore) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	obj, ok := s.objects[strings.TrimPrefix(r.URL.Path, "/")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(rw, r)
		return
	}

	if obj.contentType != "" {
		rw.Header().Set("Content-Type", obj.contentType)
	}
	rw.Write(obj.data)
}

func (s *ObjectStore) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

func (s *ObjectStore) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

func (s *ObjectStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
