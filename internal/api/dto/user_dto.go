package dto

import (
	"time"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// UserRegisterRequest payload for new data subjects.
type UserRegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserLoginRequest payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest payload for POST /auth/password/change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	CompanyID *string     `json:"company_id,omitempty"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// FromUser maps an account without its password hash.
func FromUser(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CompanyID: u.CompanyID,
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
	}
}

// ProfileRequest payload for PUT /me/profile.
type ProfileRequest struct {
	DateOfBirth         string `json:"date_of_birth"`
	Phone               string `json:"phone"`
	Address             string `json:"address"`
	MedicalRecordNumber string `json:"medical_record_number"`
}

// ProfileResponse returns decrypted profile fields to their owner.
type ProfileResponse struct {
	UserID              string    `json:"user_id"`
	DateOfBirth         string    `json:"date_of_birth"`
	Phone               string    `json:"phone"`
	Address             string    `json:"address"`
	MedicalRecordNumber string    `json:"medical_record_number"`
	Version             int64     `json:"version"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// FromProfile maps a decrypted profile.
func FromProfile(p *domain.UserProfile) ProfileResponse {
	return ProfileResponse{
		UserID:              p.UserID,
		DateOfBirth:         p.DateOfBirth,
		Phone:               p.Phone,
		Address:             p.Address,
		MedicalRecordNumber: p.MedicalRecordNumber,
		Version:             p.Version,
		UpdatedAt:           p.UpdatedAt,
	}
}
