package repository

import (
	"context"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// ProfileRepository stores encrypted user profiles. It never sees plaintext.
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (*domain.EncryptedProfile, error)
	Upsert(ctx context.Context, profile *domain.EncryptedProfile) error
}

type profileRepository struct {
	db DB
}

// NewProfileRepository returns a Postgres-backed implementation.
func NewProfileRepository(db DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Get(ctx context.Context, userID string) (*domain.EncryptedProfile, error) {
	const query = `
        SELECT user_id, date_of_birth, phone, address, medical_record_number, version, updated_at
        FROM user_profiles WHERE user_id=$1`

	var p domain.EncryptedProfile
	if err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.DateOfBirth,
		&p.Phone,
		&p.Address,
		&p.MedicalRecordNumber,
		&p.Version,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepository) Upsert(ctx context.Context, p *domain.EncryptedProfile) error {
	const query = `
        INSERT INTO user_profiles (user_id, date_of_birth, phone, address, medical_record_number)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id) DO UPDATE SET
            date_of_birth=EXCLUDED.date_of_birth,
            phone=EXCLUDED.phone,
            address=EXCLUDED.address,
            medical_record_number=EXCLUDED.medical_record_number,
            version=user_profiles.version+1
        RETURNING version, updated_at`

	return r.db.QueryRow(ctx, query,
		p.UserID,
		p.DateOfBirth,
		p.Phone,
		p.Address,
		p.MedicalRecordNumber,
	).Scan(&p.Version, &p.UpdatedAt)
}
