package domain

import "time"

// UserProfile holds sensitive subject details in plaintext form.
type UserProfile struct {
	UserID              string
	DateOfBirth         string
	Phone               string
	Address             string
	MedicalRecordNumber string
	Version             int64
	UpdatedAt           time.Time
}

// EncryptedProfile is the at-rest form of a UserProfile.
type EncryptedProfile struct {
	UserID              string
	DateOfBirth         []byte
	Phone               []byte
	Address             []byte
	MedicalRecordNumber []byte
	Version             int64
	UpdatedAt           time.Time
}
