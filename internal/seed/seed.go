// Package seed loads YAML fixtures of platform admins, companies and data
// subjects and inserts them through the repositories.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/auth"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
)

// Account is a seeded login.
type Account struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Company is a seeded data requester with its first COMPANY_ADMIN.
type Company struct {
	Name          string  `yaml:"name"`
	Slug          string  `yaml:"slug"`
	ContactEmail  string  `yaml:"contact_email"`
	WebhookURL    string  `yaml:"webhook_url"`
	WebhookSecret string  `yaml:"webhook_secret"`
	Admin         Account `yaml:"admin"`
}

// File is the top-level seed document.
type File struct {
	Version   int       `yaml:"version"`
	Admins    []Account `yaml:"admins"`
	Companies []Company `yaml:"companies"`
	Users     []Account `yaml:"users"`
}

// Result counts what Apply did.
type Result struct {
	Created int
	Skipped int
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a seed document.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("seed: unsupported version")
	}
	for _, c := range f.Companies {
		if c.Slug == "" || c.Admin.Email == "" {
			return nil, fmt.Errorf("seed: company %q needs a slug and an admin", c.Name)
		}
	}
	return &f, nil
}

// Seeder inserts seed documents. Rows that already exist are skipped so a
// seed can be applied repeatedly.
type Seeder struct {
	users      repository.UserRepository
	companies  repository.CompanyRepository
	bcryptCost int
	logger     *zap.Logger
}

// NewSeeder constructs a Seeder.
func NewSeeder(users repository.UserRepository, companies repository.CompanyRepository, bcryptCost int, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{users: users, companies: companies, bcryptCost: bcryptCost, logger: logger}
}

// Apply inserts admins, then companies, then users.
func (s *Seeder) Apply(ctx context.Context, f *File) (Result, error) {
	var res Result
	for _, a := range f.Admins {
		if err := s.account(ctx, a, domain.RoleAdmin, &res); err != nil {
			return res, err
		}
	}
	for _, c := range f.Companies {
		if err := s.company(ctx, c, &res); err != nil {
			return res, err
		}
	}
	for _, u := range f.Users {
		if err := s.account(ctx, u, domain.RoleUser, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Seeder) account(ctx context.Context, a Account, role domain.Role, res *Result) error {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		s.logger.Info("seed account exists", zap.String("email", email))
		res.Skipped++
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("seed lookup %s: %w", email, err)
	}

	user, err := s.newUser(a, role)
	if err != nil {
		return err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return fmt.Errorf("seed account %s: %w", email, err)
	}
	s.logger.Info("seed account created", zap.String("email", email), zap.String("role", string(role)))
	res.Created++
	return nil
}

func (s *Seeder) company(ctx context.Context, c Company, res *Result) error {
	admin, err := s.newUser(c.Admin, domain.RoleCompanyAdmin)
	if err != nil {
		return err
	}
	company := &domain.Company{
		Name:          strings.TrimSpace(c.Name),
		Slug:          strings.TrimSpace(c.Slug),
		ContactEmail:  strings.TrimSpace(c.ContactEmail),
		Status:        domain.CompanyStatusActive,
		WebhookURL:    strings.TrimSpace(c.WebhookURL),
		WebhookSecret: c.WebhookSecret,
	}
	if err := s.companies.CreateWithAdmin(ctx, company, admin); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			s.logger.Info("seed company exists", zap.String("slug", company.Slug))
			res.Skipped++
			return nil
		}
		return fmt.Errorf("seed company %s: %w", company.Slug, err)
	}
	s.logger.Info("seed company created", zap.String("slug", company.Slug), zap.String("id", company.ID))
	res.Created++
	return nil
}

func (s *Seeder) newUser(a Account, role domain.Role) (*domain.User, error) {
	if err := auth.ValidatePassword(a.Password); err != nil {
		return nil, fmt.Errorf("seed account %s: %w", a.Email, err)
	}
	hash, err := auth.HashPassword(a.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	return &domain.User{
		Name:         strings.TrimSpace(a.Name),
		Email:        strings.ToLower(strings.TrimSpace(a.Email)),
		PasswordHash: hash,
		Role:         role,
		Status:       domain.UserStatusActive,
	}, nil
}
