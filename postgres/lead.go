package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phbpx/leadadmin"
)

type LeadStore struct {
	db *sql.DB
}

var _ leadadmin.RecordStore = (*LeadStore)(nil)

func NewLeadStore(db *sql.DB) *LeadStore {
	return &LeadStore{
		db: db,
	}
}

func (ls *LeadStore) Insert(ctx context.Context, lead leadadmin.LeadRecord) (string, error) {
	images, err := encodeImages(lead.Images)
	if err != nil {
		return "", err
	}

	query := `
	INSERT INTO leads (
		id, name, title, transaction_type, city, district, property, images, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)
	RETURNING id`

	var id string
	err = ls.db.QueryRowContext(ctx, query,
		lead.ID,
		lead.Name,
		lead.Title,
		lead.TransactionType,
		lead.City,
		lead.District,
		lead.Property,
		images,
		lead.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("lead %s already exists: %w", lead.ID, err)
		}
		return "", err
	}

	return id, nil
}

const selectLeads = `
	SELECT
		id,
		name,
		title,
		transaction_type,
		city,
		district,
		property,
		images,
		created_at,
		updated_at
	FROM leads`

func (ls *LeadStore) List(ctx context.Context, limit int) ([]leadadmin.LeadRecord, error) {
	query := selectLeads + `
	ORDER BY created_at DESC
	LIMIT $1`

	rows, err := ls.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []leadadmin.LeadRecord{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}

	return leads, rows.Err()
}

func (ls *LeadStore) GetByID(ctx context.Context, id string) (leadadmin.LeadRecord, error) {
	query := selectLeads + `
	WHERE id=$1`

	lead, err := scanLead(ls.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leadadmin.LeadRecord{}, leadadmin.ErrLeadNotFound
		}
		return leadadmin.LeadRecord{}, err
	}

	return lead, nil
}

func (ls *LeadStore) Update(ctx context.Context, lead leadadmin.LeadRecord) error {
	images, err := encodeImages(lead.Images)
	if err != nil {
		return err
	}

	query := `
	UPDATE leads SET
		name = $2,
		title = $3,
		transaction_type = $4,
		city = $5,
		district = $6,
		property = $7,
		images = $8,
		updated_at = NOW()
	WHERE id = $1`

	res, err := ls.db.ExecContext(ctx, query,
		lead.ID,
		lead.Name,
		lead.Title,
		lead.TransactionType,
		lead.City,
		lead.District,
		lead.Property,
		images,
	)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}

func (ls *LeadStore) DeleteByID(ctx context.Context, id string) error {
	res, err := ls.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leadadmin.ErrLeadNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row scanner) (leadadmin.LeadRecord, error) {
	var (
		lead      leadadmin.LeadRecord
		images    []byte
		updatedAt sql.NullTime
	)

	err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.Title,
		&lead.TransactionType,
		&lead.City,
		&lead.District,
		&lead.Property,
		&images,
		&lead.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return lead, err
	}

	lead.Images = []leadadmin.ImageAttachment{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &lead.Images); err != nil {
			return lead, fmt.Errorf("decoding images of lead %s: %w", lead.ID, err)
		}
	}
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		lead.UpdatedAt = &t
	}
	lead.CreatedAt = lead.CreatedAt.UTC()

	return lead, nil
}

// encodeImages renders the attachments as JSON text. It is passed as a string
// so lib/pq sends it in text format, which jsonb accepts.
func encodeImages(images []leadadmin.ImageAttachment) (string, error) {
	if images == nil {
		images = []leadadmin.ImageAttachment{}
	}
	b, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encoding images: %w", err)
	}
	return string(b), nil
}
