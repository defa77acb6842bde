package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/auth"
	"github.com/phbpx/leadadmin/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to the database named by LEAD_TEST_DB_HOST and skips
// the test when it is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("LEAD_TEST_DB_HOST")
	if host == "" {
		t.Skip("LEAD_TEST_DB_HOST not set")
	}

	cfg := postgres.Config{
		User:         envOr("LEAD_TEST_DB_USER", "leadsvc"),
		Password:     envOr("LEAD_TEST_DB_PASSWORD", "leadsvc"),
		Host:         host,
		Name:         envOr("LEAD_TEST_DB_NAME", "leads"),
		MaxIdleConns: 2,
		DisableTLS:   true,
	}

	db, err := postgres.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, postgres.Migrate(ctx, db))

	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestDSN(t *testing.T) {
	cfg := postgres.Config{User: "u", Password: "p@ss", Host: "db:5432", Name: "leads", DisableTLS: true}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/leads?sslmode=disable&timezone=utc", cfg.DSN())

	cfg.DisableTLS = false
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}

func TestLeadStore(t *testing.T) {
	db := openTestDB(t)
	store := postgres.NewLeadStore(db)
	ctx := context.Background()

	older := leadadmin.LeadRecord{
		ID:              uuid.NewString(),
		Name:            "Chen",
		Title:           leadadmin.TitleMr,
		TransactionType: leadadmin.TransactionSell,
		City:            "Taipei",
		District:        "Xinyi",
		Property:        "3F walk-up",
		Images:          []leadadmin.ImageAttachment{},
		CreatedAt:       time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond),
	}
	newer := older
	newer.ID = uuid.NewString()
	newer.Name = "Lin"
	newer.Images = []leadadmin.ImageAttachment{{URL: "http://x/a.jpg", Path: "property-images/a.jpg", Name: "a.jpg"}}
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)

	t.Cleanup(func() {
		store.DeleteByID(ctx, older.ID)
		store.DeleteByID(ctx, newer.ID)
	})

	id, err := store.Insert(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, older.ID, id)

	_, err = store.Insert(ctx, newer)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.Images, got.Images)
	assert.Equal(t, "Lin", got.Name)

	leads, err := store.List(ctx, 1000)
	require.NoError(t, err)
	idx := map[string]int{}
	for i, l := range leads {
		idx[l.ID] = i
	}
	assert.Less(t, idx[newer.ID], idx[older.ID], "newest first")

	got.Property = "renovated"
	require.NoError(t, store.Update(ctx, got))
	got, err = store.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, "renovated", got.Property)
	assert.NotNil(t, got.UpdatedAt)

	require.NoError(t, store.DeleteByID(ctx, newer.ID))
	assert.ErrorIs(t, store.DeleteByID(ctx, newer.ID), leadadmin.ErrLeadNotFound)

	_, err = store.GetByID(ctx, newer.ID)
	assert.ErrorIs(t, err, leadadmin.ErrLeadNotFound)
}

func TestUserStore(t *testing.T) {
	db := openTestDB(t)
	store := postgres.NewUserStore(db)
	ctx := context.Background()

	u := auth.User{
		ID:           uuid.NewString(),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	t.Cleanup(func() { db.Exec(`DELETE FROM users WHERE id = $1`, u.ID) })

	require.NoError(t, store.Create(ctx, u))
	assert.ErrorIs(t, store.Create(ctx, u), leadadmin.ErrDuplicatedUser)

	got, err := store.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Nil(t, got.ConfirmedAt)

	require.NoError(t, store.UpdatePassword(ctx, u.ID, "other"))
	got, err = store.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, "other", got.PasswordHash)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Confirm(ctx, u.ID, now))
	got, err = store.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, now.Equal(*got.ConfirmedAt))

	assert.ErrorIs(t, store.Confirm(ctx, uuid.NewString(), now), auth.ErrUserNotFound)

	_, err = store.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
