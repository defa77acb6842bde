package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Insert(ctx context.Context, lead leadadmin.LeadRecord) (string, error) {
	args := m.Called(ctx, lead)
	return args.String(0), args.Error(1)
}

func (m *MockRecordStore) List(ctx context.Context, limit int) ([]leadadmin.LeadRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]leadadmin.LeadRecord), args.Error(1)
}

func (m *MockRecordStore) GetByID(ctx context.Context, id string) (leadadmin.LeadRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(leadadmin.LeadRecord), args.Error(1)
}

func (m *MockRecordStore) Update(ctx context.Context, lead leadadmin.LeadRecord) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *MockRecordStore) DeleteByID(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Test Setup ---

type leadServiceTestComponents struct {
	svc     *LeadService
	records *inmem.RecordStore
	objects *inmem.ObjectStore
}

func setupLeadServiceTest(t *testing.T) leadServiceTestComponents {
	t.Helper()

	records := inmem.NewRecordStore()
	objects := inmem.NewObjectStore("http://objects.test/uploads")
	svc := NewLeadService(records, objects, zap.NewNop().Sugar(), Config{})

	return leadServiceTestComponents{
		svc:     svc,
		records: records,
		objects: objects,
	}
}

func chenInput() leadadmin.LeadInput {
	return leadadmin.LeadInput{
		Name:            "Chen",
		Title:           leadadmin.TitleMr,
		TransactionType: leadadmin.TransactionSell,
		City:            "Taipei",
		District:        "Xinyi",
		Property:        "3BR apartment",
	}
}

func image(name string) leadadmin.PendingImage {
	return leadadmin.PendingImage{ID: name, Name: name, ContentType: "image/jpeg", Data: []byte("jpeg:" + name)}
}

// --- Tests ---

func TestCreateLead_NoImagesAppearsFirstInList(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	older := leadadmin.LeadInput{Name: "Lin", Property: "Townhouse"}.Normalize().
		Record("older", nil, time.Now().UTC().Add(-time.Hour))
	_, err := tc.records.Insert(ctx, older)
	require.NoError(t, err)

	res, err := tc.svc.CreateLead(ctx, chenInput(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Empty(t, res.Failed)

	stored, err := tc.records.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []leadadmin.ImageAttachment{}, stored.Images)
	assert.Equal(t, leadadmin.TransactionSell, stored.TransactionType)
	assert.False(t, stored.CreatedAt.IsZero())

	leads := tc.svc.ListLeads(ctx)
	require.Len(t, leads, 2)
	assert.Equal(t, res.ID, leads[0].ID)
	assert.Equal(t, "older", leads[1].ID)
}

func TestCreateLead_FailedUploadDoesNotBlockInsert(t *testing.T) {
	tc := setupLeadServiceTest(t)
	tc.objects.UploadErr = func(name string) error {
		if name == "second.jpg" {
			return errors.New("storage unavailable")
		}
		return nil
	}

	res, err := tc.svc.CreateLead(context.Background(), chenInput(), []leadadmin.PendingImage{image("first.jpg"), image("second.jpg")})
	require.NoError(t, err)

	assert.Equal(t, 1, tc.records.Len())
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "second.jpg", res.Failed[0].Name)
	assert.ErrorIs(t, res.Failed[0], leadadmin.ErrUploadFailed)

	stored, err := tc.records.GetByID(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, stored.Images, 1)
	assert.Equal(t, "first.jpg", stored.Images[0].Name)
	assert.True(t, tc.objects.Has(stored.Images[0].Path))
	assert.Equal(t, tc.objects.PublicURL(stored.Images[0].Path), stored.Images[0].URL)
}

func TestCreateLead_KeepsUploadOrder(t *testing.T) {
	tc := setupLeadServiceTest(t)

	staged, err := tc.svc.StageImage(context.Background(), image("staged.jpg"))
	require.NoError(t, err)
	pending := []leadadmin.PendingImage{image("a.jpg"), staged, image("c.jpg")}

	res, err := tc.svc.CreateLead(context.Background(), chenInput(), pending)
	require.NoError(t, err)

	require.Len(t, res.Images, 3)
	assert.Equal(t, "a.jpg", res.Images[0].Name)
	assert.Equal(t, staged.Path, res.Images[1].Path)
	assert.Equal(t, "c.jpg", res.Images[2].Name)
	assert.ElementsMatch(t, []string{"staged.jpg", "a.jpg", "c.jpg"}, tc.objects.Uploads())
}

func TestCreateLead_TooManyImagesRejectedBeforeUpload(t *testing.T) {
	tc := setupLeadServiceTest(t)

	pending := []leadadmin.PendingImage{image("1.jpg"), image("2.jpg"), image("3.jpg"), image("4.jpg")}
	_, err := tc.svc.CreateLead(context.Background(), chenInput(), pending)

	require.ErrorIs(t, err, leadadmin.ErrTooManyImages)
	assert.ErrorIs(t, err, leadadmin.ErrValidation)
	assert.Empty(t, tc.objects.Uploads())
	assert.Zero(t, tc.records.Len())
}

func TestCreateLead_InvalidInputRejectedBeforeUpload(t *testing.T) {
	tc := setupLeadServiceTest(t)

	in := chenInput()
	in.Property = "   "
	_, err := tc.svc.CreateLead(context.Background(), in, []leadadmin.PendingImage{image("a.jpg")})

	require.ErrorIs(t, err, leadadmin.ErrValidation)
	assert.Empty(t, tc.objects.Uploads())
	assert.Zero(t, tc.records.Len())
}

func TestCreateLead_InsertFailureRollsBackUploads(t *testing.T) {
	tc := setupLeadServiceTest(t)
	tc.records.InsertErr = func(leadadmin.LeadRecord) error {
		return errors.New("connection reset")
	}

	staged, err := tc.svc.StageImage(context.Background(), image("staged.jpg"))
	require.NoError(t, err)

	res, err := tc.svc.CreateLead(context.Background(), chenInput(), []leadadmin.PendingImage{image("a.jpg"), staged})

	require.ErrorIs(t, err, leadadmin.ErrCreateFailed)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, res.ID)

	// Only the object uploaded by this call is removed again; the staged one
	// still belongs to the form and may be resubmitted.
	deletes := tc.objects.Deletes()
	require.Len(t, deletes, 1)
	assert.NotEqual(t, staged.Path, deletes[0])
	assert.True(t, tc.objects.Has(staged.Path))
	assert.Equal(t, 1, tc.objects.Len())

	tc.records.InsertErr = nil
	res, err = tc.svc.CreateLead(context.Background(), chenInput(), []leadadmin.PendingImage{staged})
	require.NoError(t, err)
	assert.Equal(t, staged.Path, res.Images[0].Path)
}

func TestCreateLead_RejectsImagesNotStagedHere(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	owned, err := tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{image("a.jpg")})
	require.NoError(t, err)
	foreign := leadadmin.PendingImage{ID: "x", Name: "a.jpg", Path: owned.Images[0].Path, URL: owned.Images[0].URL}

	tests := []struct {
		name string
		img  leadadmin.PendingImage
	}{
		{"path owned by another lead", foreign},
		{"arbitrary bucket key", leadadmin.PendingImage{ID: "y", Name: "y.jpg", Path: "secrets/backup.tar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{image("b.jpg"), tt.img})
			require.ErrorIs(t, err, leadadmin.ErrValidation)
		})
	}

	assert.Equal(t, 1, tc.records.Len())
	assert.Equal(t, []string{"a.jpg"}, tc.objects.Uploads())
}

func TestCreateLead_StagedImageAttachesOnce(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	staged, err := tc.svc.StageImage(ctx, image("a.jpg"))
	require.NoError(t, err)

	_, err = tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{staged, staged})
	require.ErrorIs(t, err, leadadmin.ErrValidation)

	_, err = tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{staged})
	require.NoError(t, err)

	_, err = tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{staged})
	require.ErrorIs(t, err, leadadmin.ErrValidation)
	assert.Equal(t, 1, tc.records.Len())
}

func TestStageImage_ExpiredStagesAreDeleted(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	tc.svc.now = func() time.Time { return now }

	old, err := tc.svc.StageImage(ctx, image("old.jpg"))
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = tc.svc.StageImage(ctx, image("new.jpg"))
	require.NoError(t, err)

	assert.Equal(t, []string{old.Path}, tc.objects.Deletes())
	_, err = tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{old})
	assert.ErrorIs(t, err, leadadmin.ErrValidation)
}

func TestListLeads_StoreFailureReturnsEmpty(t *testing.T) {
	records := new(MockRecordStore)
	records.On("List", mock.Anything, 100).Return(nil, errors.New("db down"))

	svc := NewLeadService(records, inmem.NewObjectStore(""), zap.NewNop().Sugar(), Config{})

	leads := svc.ListLeads(context.Background())
	assert.NotNil(t, leads)
	assert.Empty(t, leads)
	records.AssertExpectations(t)
}

func TestListLeads_UsesConfiguredCap(t *testing.T) {
	records := new(MockRecordStore)
	records.On("List", mock.Anything, 5).Return([]leadadmin.LeadRecord{{ID: "a"}}, nil)

	svc := NewLeadService(records, inmem.NewObjectStore(""), zap.NewNop().Sugar(), Config{MaxListSize: 5})

	leads := svc.ListLeads(context.Background())
	require.Len(t, leads, 1)
	records.AssertExpectations(t)
}

func TestDeleteLead_Idempotent(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	keep, err := tc.svc.CreateLead(ctx, chenInput(), nil)
	require.NoError(t, err)
	gone, err := tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{image("a.jpg")})
	require.NoError(t, err)

	lead, err := tc.svc.GetLead(ctx, gone.ID)
	require.NoError(t, err)

	require.NoError(t, tc.svc.DeleteLead(ctx, lead))
	require.NoError(t, tc.svc.DeleteLead(ctx, lead))
	require.NoError(t, tc.svc.DeleteLeadByID(ctx, lead.ID))

	_, err = tc.records.GetByID(ctx, gone.ID)
	assert.ErrorIs(t, err, leadadmin.ErrLeadNotFound)
	_, err = tc.records.GetByID(ctx, keep.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, tc.records.Len())
}

func TestDeleteLead_ImageDeleteFailureIsNotFatal(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	res, err := tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{image("a.jpg"), image("b.jpg")})
	require.NoError(t, err)
	require.Len(t, res.Images, 2)

	first := res.Images[0].Path
	tc.objects.DeleteErr = func(path string) error {
		if path == first {
			return errors.New("access denied")
		}
		return nil
	}

	lead, err := tc.svc.GetLead(ctx, res.ID)
	require.NoError(t, err)

	require.NoError(t, tc.svc.DeleteLead(ctx, lead))

	assert.Zero(t, tc.records.Len())
	assert.ElementsMatch(t, []string{res.Images[0].Path, res.Images[1].Path}, tc.objects.Deletes())
	assert.True(t, tc.objects.Has(first))
	assert.False(t, tc.objects.Has(res.Images[1].Path))
}

func TestDeleteLead_SkipsAttachmentsWithoutPath(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	lead := chenInput().Record("legacy", []leadadmin.ImageAttachment{{URL: "http://elsewhere/x.jpg"}}, time.Now().UTC())
	_, err := tc.records.Insert(ctx, lead)
	require.NoError(t, err)

	require.NoError(t, tc.svc.DeleteLead(ctx, lead))
	assert.Empty(t, tc.objects.Deletes())
	assert.Zero(t, tc.records.Len())
}

func TestDeleteLead_RecordFailureIsReported(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	res, err := tc.svc.CreateLead(ctx, chenInput(), nil)
	require.NoError(t, err)

	tc.records.DeleteErr = func(string) error { return errors.New("timeout") }

	lead, err := tc.svc.GetLead(ctx, res.ID)
	require.NoError(t, err)

	err = tc.svc.DeleteLead(ctx, lead)
	require.ErrorIs(t, err, leadadmin.ErrDeleteFailed)
	assert.Equal(t, 1, tc.records.Len())
}

func TestStageAndRemovePendingImage(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	staged, err := tc.svc.StageImage(ctx, leadadmin.PendingImage{Name: "a.jpg", Data: []byte("x")})
	require.NoError(t, err)
	require.NotEmpty(t, staged.ID)
	require.True(t, staged.Uploaded())
	assert.Nil(t, staged.Data)

	other := image("b.jpg")
	pending := []leadadmin.PendingImage{staged, other}

	tc.objects.DeleteErr = func(string) error { return errors.New("flaky") }
	remaining, err := tc.svc.RemovePendingImage(ctx, pending, staged.ID)
	require.NoError(t, err)

	assert.Equal(t, []leadadmin.PendingImage{other}, remaining)
	assert.Equal(t, []string{staged.Path}, tc.objects.Deletes())
	assert.Len(t, pending, 2)
}

func TestRemovePendingImage_NotUploaded(t *testing.T) {
	tc := setupLeadServiceTest(t)

	remaining, err := tc.svc.RemovePendingImage(context.Background(), []leadadmin.PendingImage{image("a.jpg")}, "a.jpg")
	require.NoError(t, err)

	assert.Empty(t, remaining)
	assert.Empty(t, tc.objects.Deletes())
}

func TestRemovePendingImage_RefusesForeignPath(t *testing.T) {
	tc := setupLeadServiceTest(t)
	ctx := context.Background()

	res, err := tc.svc.CreateLead(ctx, chenInput(), []leadadmin.PendingImage{image("a.jpg")})
	require.NoError(t, err)
	path := res.Images[0].Path

	pending := []leadadmin.PendingImage{{ID: "x", Name: "a.jpg", Path: path}}
	_, err = tc.svc.RemovePendingImage(ctx, pending, "x")

	require.ErrorIs(t, err, leadadmin.ErrValidation)
	assert.Empty(t, tc.objects.Deletes())
	assert.True(t, tc.objects.Has(path))
}

func TestStageImage_UploadFailure(t *testing.T) {
	tc := setupLeadServiceTest(t)
	tc.objects.UploadErr = func(string) error { return errors.New("quota") }

	_, err := tc.svc.StageImage(context.Background(), image("a.jpg"))

	require.ErrorIs(t, err, leadadmin.ErrUploadFailed)
	assert.Contains(t, err.Error(), "a.jpg")
}

func TestUploadFailure_KeepsCause(t *testing.T) {
	f := UploadFailure{Name: "a.jpg", Err: context.DeadlineExceeded}

	assert.ErrorIs(t, f, leadadmin.ErrUploadFailed)
	assert.ErrorIs(t, f, context.DeadlineExceeded)
}

func TestCallTimeoutBoundsStoreCalls(t *testing.T) {
	records := new(MockRecordStore)
	records.On("List", mock.Anything, 100).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	svc := NewLeadService(records, inmem.NewObjectStore(""), zap.NewNop().Sugar(), Config{CallTimeout: 10 * time.Millisecond})

	assert.Empty(t, svc.ListLeads(context.Background()))
	records.AssertExpectations(t)
}
