package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentStatus is the enrollment state of a customer record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Customer is one enrollment attempt. OrderID is the local order reference and is
// never updated after creation; GatewayOrderID and PaymentID are set once.
type Customer struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Email       string `gorm:"type:varchar(255);not null;index" json:"email"`
	Whatsapp    string `gorm:"type:varchar(50);not null" json:"whatsapp"`
	CountryCode string `gorm:"type:varchar(10);not null" json:"country_code"`

	OrderID        string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	GatewayOrderID *string        `gorm:"type:varchar(100);uniqueIndex" json:"gateway_order_id,omitempty"`
	PaymentID      *string        `gorm:"type:varchar(100);uniqueIndex" json:"payment_id,omitempty"`
	PaymentGateway PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	PaymentStatus  PaymentStatus  `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	Amount         int64          `gorm:"not null" json:"amount"`
	Currency       string         `gorm:"type:varchar(10);not null" json:"currency"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
}

// BeforeCreate assigns the customer identifier.
func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.PaymentStatus == "" {
		c.PaymentStatus = PaymentStatusPending
	}
	return nil
}

// IsEnrolled reports whether the payment has been confirmed.
func (c *Customer) IsEnrolled() bool {
	return c.PaymentStatus == PaymentStatusCompleted
}

// WhatsappNumber returns the contact number prefixed with its country code.
func (c *Customer) WhatsappNumber() string {
	return c.CountryCode + c.Whatsapp
}
