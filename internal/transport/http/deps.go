package http

import (
	"context"
	"time"
)

// AuditArchive is the minimal interface the router requires from the merge
// snapshot archive.
type AuditArchive interface {
	Archive(ctx context.Context, primaryID string, at time.Time, snapshot any) (string, error)
}

// Mailer is the minimal interface the router requires from an email sender.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the minimal interface the router requires from an SMS sender.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}
