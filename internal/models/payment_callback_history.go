package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentGateway string

const (
	PaymentGatewayRazorpay PaymentGateway = "razorpay"
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
	PaymentGatewayDemo     PaymentGateway = "demo"
)

// CallbackSource tells which path reported the payment event.
type CallbackSource string

const (
	CallbackSourceClient  CallbackSource = "client"
	CallbackSourceWebhook CallbackSource = "webhook"
)

// CallbackOutcome records what a delivery did to the enrollment record.
type CallbackOutcome string

const (
	CallbackOutcomeApplied   CallbackOutcome = "applied"
	CallbackOutcomeDuplicate CallbackOutcome = "duplicate"
	CallbackOutcomeTerminal  CallbackOutcome = "terminal"
	CallbackOutcomeIgnored   CallbackOutcome = "ignored"
	CallbackOutcomeRejected  CallbackOutcome = "rejected"
	CallbackOutcomeNotFound  CallbackOutcome = "not_found"
)

// PaymentCallbackHistory is the audit trail of every verification and webhook delivery.
type PaymentCallbackHistory struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	PaymentGateway PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	Source         CallbackSource  `gorm:"type:varchar(20);not null" json:"source"`
	EventType      string          `gorm:"type:varchar(100)" json:"event_type"`
	GatewayOrderID string          `gorm:"type:varchar(100);index" json:"gateway_order_id"`
	PaymentID      string          `gorm:"type:varchar(100)" json:"payment_id"`
	SignatureValid bool            `json:"signature_valid"`
	Outcome        CallbackOutcome `gorm:"type:varchar(20)" json:"outcome"`
	Metadata       datatypes.JSON  `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}
