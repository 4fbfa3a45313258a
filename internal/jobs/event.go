// Package jobs consumes export-job events from Kafka and runs the email export for each.
package jobs

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ErrInvalidEvent marks a message that can never succeed; it is committed, not retried.
var ErrInvalidEvent = errors.New("invalid export job event")

type Event struct {
	Version   int       `json:"version"`
	JobID     string    `json:"job_id"`
	Recipient string    `json:"recipient,omitempty"`
	TS        time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("%w: version must be 1", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidEvent)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("%w: ts is required", ErrInvalidEvent)
	}
	if e.Recipient != "" {
		if _, err := mail.ParseAddress(e.Recipient); err != nil {
			return fmt.Errorf("%w: recipient: %v", ErrInvalidEvent, err)
		}
	}
	return nil
}
