package domain

import "time"

// RecipientType says who a notification is addressed to.
type RecipientType string

const (
	RecipientUser    RecipientType = "USER"
	RecipientCompany RecipientType = "COMPANY"
)

// DeliveryState tracks outbound webhook delivery.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryFailed    DeliveryState = "FAILED"
	DeliverySkipped   DeliveryState = "SKIPPED"
)

// Notification informs a user or company about a consent change.
type Notification struct {
	ID            string
	RecipientType RecipientType
	RecipientID   string
	EventType     string
	ConsentID     string
	Message       string
	Read          bool
	Delivery      DeliveryState
	CreatedAt     time.Time
}
