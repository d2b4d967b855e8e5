package models

import (
	"strings"
	"time"
)

// Job lifecycle states persisted in the job store.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Priority levels. Higher values are dequeued first.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Notification kinds produced by the order-status flow.
const (
	KindOrderCreated  = "order_created"
	KindStatusChanged = "status_changed"
)

// OrderPayload carries the order fields needed to compose a customer message.
// The core reads these at enqueue time and never goes back to the order record.
type OrderPayload struct {
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	StoreName       string `json:"store_name"`
	DeliveryType    string `json:"delivery_type,omitempty"`
	DeliveryAddress string `json:"delivery_address,omitempty"`
	NewStatus       string `json:"new_status"`
	ETA             string `json:"eta,omitempty"`
}

// NotificationJob is one unit of outbound-notification work.
type NotificationJob struct {
	ID            string       `json:"id"`
	StoreID       string       `json:"store_id"`
	OrderID       string       `json:"order_id"`
	Kind          string       `json:"kind"`
	Payload       OrderPayload `json:"payload"`
	Status        string       `json:"status"`
	Priority      int          `json:"priority"`
	Attempts      int          `json:"attempts"`
	MaxAttempts   int          `json:"max_attempts"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	LastError     *string      `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsTerminal reports whether a status admits no further automatic processing.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// NormalizePhone strips separator characters from a phone number, keeping a
// leading + and the digits. Stored destinations are always in this form.
func NormalizePhone(raw string) string {
	return phoneSeparators.Replace(strings.TrimSpace(raw))
}
