package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// CompanyRepository persists data requesters.
type CompanyRepository interface {
	CreateWithAdmin(ctx context.Context, company *domain.Company, admin *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.Company, error)
	List(ctx context.Context, limit, offset int) ([]domain.Company, error)
	UpdateStatus(ctx context.Context, id string, status domain.CompanyStatus) error
}

type companyRepository struct {
	db DB
}

// NewCompanyRepository returns a Postgres-backed implementation.
func NewCompanyRepository(db DB) CompanyRepository {
	return &companyRepository{db: db}
}

const companyColumns = `id, name, slug, contact_email, status, webhook_url, webhook_secret, created_at, updated_at`

// CreateWithAdmin inserts the company and its first COMPANY_ADMIN account together.
func (r *companyRepository) CreateWithAdmin(ctx context.Context, company *domain.Company, admin *domain.User) error {
	const query = `
        INSERT INTO companies (name, slug, contact_email, status, webhook_url, webhook_secret)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`

	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query,
			company.Name,
			company.Slug,
			company.ContactEmail,
			company.Status,
			nullableString(company.WebhookURL),
			nullableString(company.WebhookSecret),
		).Scan(&company.ID, &company.CreatedAt, &company.UpdatedAt); err != nil {
			return err
		}
		if admin == nil {
			return nil
		}
		admin.CompanyID = &company.ID
		return insertUser(ctx, tx, admin)
	})
}

func (r *companyRepository) GetByID(ctx context.Context, id string) (*domain.Company, error) {
	if !isRowID(id) {
		return nil, pgx.ErrNoRows
	}
	return scanCompany(r.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id=$1`, id))
}

func (r *companyRepository) List(ctx context.Context, limit, offset int) ([]domain.Company, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+companyColumns+` FROM companies ORDER BY name LIMIT $1 OFFSET $2`,
		clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	companies := []domain.Company{}
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, *company)
	}
	return companies, rows.Err()
}

func (r *companyRepository) UpdateStatus(ctx context.Context, id string, status domain.CompanyStatus) error {
	if !isRowID(id) {
		return pgx.ErrNoRows
	}
	cmd, err := r.db.Exec(ctx, `UPDATE companies SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanCompany(row rowScanner) (*domain.Company, error) {
	var (
		company       domain.Company
		webhookURL    *string
		webhookSecret *string
	)
	if err := row.Scan(
		&company.ID,
		&company.Name,
		&company.Slug,
		&company.ContactEmail,
		&company.Status,
		&webhookURL,
		&webhookSecret,
		&company.CreatedAt,
		&company.UpdatedAt,
	); err != nil {
		return nil, err
	}
	company.WebhookURL = optionalString(webhookURL)
	company.WebhookSecret = optionalString(webhookSecret)
	return &company, nil
}
