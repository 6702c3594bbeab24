// Package notify is the notification sink: it records in-app notification
// rows and, when SMTP is configured, mirrors them to email. Callers decide
// when to notify; this package only handles delivery.
package notify

import (
	"context"
	"log"

	"attest/api/internal/store"
	"attest/api/internal/util"
)

// Input is one notification request.
type Input struct {
	UserID     string
	UserEmail  string
	UserName   string
	EntityType string
	EntityID   string
	Title      string
	Message    string
	CustomData map[string]any
}

type recorder interface {
	InsertNotification(context.Context, store.Notification) error
}

// Service persists notifications and optionally emails them.
type Service struct {
	store recorder
	email *Email
}

// New creates a notification service. email may be nil to disable delivery.
func New(recorder recorder, email *Email) *Service {
	return &Service{store: recorder, email: email}
}

// Create records one notification. The row insert is authoritative; email
// delivery is best-effort and never fails the call.
func (s *Service) Create(ctx context.Context, in Input) error {
	notification := store.Notification{
		ID:         util.NewID("ntf"),
		UserID:     in.UserID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Title:      in.Title,
		Message:    in.Message,
		CustomData: in.CustomData,
	}
	if err := s.store.InsertNotification(ctx, notification); err != nil {
		return err
	}

	if s.email != nil && s.email.IsConfigured() && in.UserEmail != "" {
		summary, _ := in.CustomData["change_summary"].(string)
		if err := s.email.SendReacknowledgmentEmail(in.UserEmail, in.UserName, in.Title, summary); err != nil {
			log.Printf("notify: email to %s failed: %v", in.UserEmail, err)
		}
	}
	return nil
}
