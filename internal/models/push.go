package models

import "time"

type PushSubscription struct {
	ID        int       `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationPayload is the JSON the service worker receives.
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Tag   string `json:"tag"`
}

const (
	DefaultTitle = "Fluency IA"
	DefaultURL   = "/home"
	DefaultTag   = "fluency-general"
)

// SendRequest is the inbound trigger. UserIDs takes precedence over UserID;
// neither means broadcast.
type SendRequest struct {
	UserID  string   `json:"userId,omitempty"`
	UserIDs []string `json:"userIds,omitempty"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url"`
	Tag     string   `json:"tag"`
}

// Payload fills in defaults for empty fields.
func (r SendRequest) Payload() NotificationPayload {
	p := NotificationPayload{Title: r.Title, Body: r.Body, URL: r.URL, Tag: r.Tag}
	if p.Title == "" {
		p.Title = DefaultTitle
	}
	if p.URL == "" {
		p.URL = DefaultURL
	}
	if p.Tag == "" {
		p.Tag = DefaultTag
	}
	return p
}

// SubscriptionFilter selects subscriptions by owner. Broadcast ignores
// UserIDs; otherwise an empty UserIDs matches nothing.
type SubscriptionFilter struct {
	UserIDs   []string
	Broadcast bool
}

func (r SendRequest) Filter() SubscriptionFilter {
	switch {
	case r.UserIDs != nil:
		return SubscriptionFilter{UserIDs: r.UserIDs}
	case r.UserID != "":
		return SubscriptionFilter{UserIDs: []string{r.UserID}}
	default:
		return SubscriptionFilter{Broadcast: true}
	}
}

// DispatchSummary is published after every batch.
type DispatchSummary struct {
	BatchID   string    `json:"batch_id"`
	Sent      int       `json:"sent"`
	Total     int       `json:"total"`
	Gone      int       `json:"gone"`
	Failed    int       `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
}
