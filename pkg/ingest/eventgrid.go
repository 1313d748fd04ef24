// Package ingest receives object-creation notifications over HTTP and feeds
// them to the propagation controller.
//
// Notifications arrive as Event Grid batches. The first request of a new
// subscription is a validation handshake that must be echoed back; every
// later request carries BlobCreated events whose data.url names the object.
package ingest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/marmos91/headerprop/pkg/propagate"
)

// Event types handled by the trigger endpoint.
const (
	SubscriptionValidationEventType = "Microsoft.EventGrid.SubscriptionValidationEvent"
	BlobCreatedEventType            = "Microsoft.Storage.BlobCreated"
)

// Event is one entry of an Event Grid batch. Data stays raw until the event
// type is known.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic,omitempty"`
	Subject     string          `json:"subject"`
	EventType   string          `json:"eventType"`
	EventTime   time.Time       `json:"eventTime"`
	Data        json.RawMessage `json:"data"`
	DataVersion string          `json:"dataVersion,omitempty"`
}

// ValidationData is the payload of a subscription validation event.
type ValidationData struct {
	ValidationCode string `json:"validationCode"`
	ValidationURL  string `json:"validationUrl,omitempty"`
}

// ValidationResponse answers a subscription validation event.
type ValidationResponse struct {
	ValidationResponse string `json:"validationResponse"`
}

// BlobCreatedData is the payload of a BlobCreated event.
type BlobCreatedData struct {
	API           string `json:"api,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
	BlobType      string `json:"blobType,omitempty"`
	URL           string `json:"url"`
}

// ParseBlobURL splits an object URL into container and path.
//
// Two layouts are accepted:
//
//	https://<account>.blob.core.windows.net/<container>/<path>
//	http://127.0.0.1:10000/<account>/<container>/<path>   (emulator, path style)
//
// Hosts that are IP addresses or "localhost" are treated as path style.
func ParseBlobURL(raw string) (container, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid object url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("object url %q has no host", raw)
	}

	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")

	host := u.Hostname()
	if host == "localhost" || net.ParseIP(host) != nil {
		// First segment is the account name
		if len(segments) > 0 {
			segments = segments[1:]
		}
	}

	if len(segments) < 2 || segments[0] == "" {
		return "", "", fmt.Errorf("object url %q does not name a container and object", raw)
	}

	path = strings.Join(segments[1:], "/")
	if path == "" {
		return "", "", fmt.Errorf("object url %q does not name an object", raw)
	}

	return segments[0], path, nil
}

// FilterBlobCreated turns a batch into notifications for sourceContainer.
//
// Events of other types, events without a url, malformed urls and objects of
// other containers are dropped.
func FilterBlobCreated(events []Event, sourceContainer string) []propagate.Notification {
	var notifications []propagate.Notification
	for _, ev := range events {
		if ev.EventType != BlobCreatedEventType {
			continue
		}

		var data BlobCreatedData
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.URL == "" {
			continue
		}

		container, path, err := ParseBlobURL(data.URL)
		if err != nil || container != sourceContainer {
			continue
		}

		notifications = append(notifications, propagate.Notification{
			Container: container,
			Path:      path,
		})
	}
	return notifications
}
