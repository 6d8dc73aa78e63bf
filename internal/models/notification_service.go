package models

import "context"

// NotificationService delivers operator alerts and user receipts.
// Delivery is best effort and never fails the calling operation.
type NotificationService interface {
	// Alert notifies operators about a condition needing attention.
	Alert(ctx context.Context, alert *Alert)
	// Receipt sends a user facing message to an email address.
	Receipt(ctx context.Context, receipt *Receipt)
}

// Alert is an operator notification.
type Alert struct {
	Subject string            `json:"subject"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Receipt is a user notification.
type Receipt struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
