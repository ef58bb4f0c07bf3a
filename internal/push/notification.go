package push

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Defaults for messages that omit fields or cannot be parsed.
const (
	DefaultTitle = "New notification"
	DefaultURL   = "/"
)

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is the parsed, display-ready form of a push message.
type Notification struct {
	ID                 string         `json:"notificationId"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	URL                string         `json:"url"`
	Data               map[string]any `json:"data,omitempty"`
	Actions            []Action       `json:"actions,omitempty"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
}

// message is the wire shape. Every field is optional.
type message struct {
	NotificationID     string         `json:"notificationId"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Message            string         `json:"message"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Tag                string         `json:"tag"`
	Data               map[string]any `json:"data"`
	Actions            []Action       `json:"actions"`
	RequireInteraction bool           `json:"requireInteraction"`
}

// Parse decodes a push message. It never fails: an empty or malformed
// payload yields a generic notification.
//
// The body falls back to the "message" field. The target URL is read from
// data.url, and the id from data.notificationId before the top-level
// notificationId.
func Parse(raw []byte) Notification {
	var m message
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			m = message{}
		}
	}

	n := Notification{
		ID:                 m.NotificationID,
		Title:              m.Title,
		Body:               m.Body,
		Icon:               m.Icon,
		Badge:              m.Badge,
		Tag:                m.Tag,
		URL:                DefaultURL,
		Data:               m.Data,
		Actions:            m.Actions,
		RequireInteraction: m.RequireInteraction,
	}
	if id, ok := m.Data["notificationId"].(string); ok && id != "" {
		n.ID = id
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Body == "" {
		n.Body = m.Message
	}
	if u, ok := m.Data["url"].(string); ok && u != "" {
		n.URL = u
	}
	return n
}
