package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a catalog mutation published to the message broker.
type EventType string

const (
	EventUploaded EventType = "image.uploaded"
	EventResized  EventType = "image.resized"
	EventDeleted  EventType = "image.deleted"
)

// Event is published after every successful catalog mutation.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	ContentID  string    `json:"content_id"`
	Image      *Image    `json:"image,omitempty"` // absent for deletions
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(t EventType, contentID string, img *Image, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		ContentID:  contentID,
		Image:      img,
		OccurredAt: at,
	}
}

// ResizeCommand asks the service to regenerate a derivative asynchronously.
type ResizeCommand struct {
	ContentID string `json:"content_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"` // 0 keeps the aspect ratio
}
