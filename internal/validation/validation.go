// Package validation holds the field-level validators shared by the API
// layer's request decoders: generic string/range/enum checks plus the two
// composite validators that guard the wire-facing inputs nothing upstream
// already constrains at the type level (an inbound webhook event's raw
// fields, and a sync push's delta kind/payload pairing).
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/streamline/gateway/internal/syncstore"
	"github.com/streamline/gateway/internal/types"
)

// Field-length ceilings for free-text inputs that otherwise have no bound
// at the type level (spec.md §4.6 content normalization, §4.8 webhook
// ingestion).
const (
	MaxEventTypeLength = 200
	MaxCollectionLength = 200
	MaxItemIDLength     = 200
)

// ValidDeltaKinds lists the syncstore.DeltaKind values a push request may
// name; any other kind is rejected before it reaches apply_local.
var ValidDeltaKinds = []string{
	string(syncstore.DeltaPositionUpdate),
	string(syncstore.DeltaWatchlistAdd),
	string(syncstore.DeltaWatchlistRemove),
}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateULID returns an error if the value is not a valid ULID format.
// ULIDs are 26 characters using Crockford Base32 (excludes I, L, O, U) —
// the format internal/catalog.NewEntityID mints entity ids in.
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{Field: field, Message: "must be a valid ULID (26 characters)"}
	}

	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range value {
		upper := strings.ToUpper(string(r))
		if !strings.Contains(crockfordBase32, upper) {
			return &ValidationError{Field: field, Message: "must be a valid ULID (invalid character)"}
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %.1f and %.1f", min, max),
		}
	}
	return nil
}

// ValidateWebhookEvent validates the header/body-derived fields of an
// inbound platform notification; internal/api's ReceiveWebhook calls it
// only after internal/webhook.Receive has verified the signature
// (spec.md §4.8). Platform existence and signature
// correctness are checked separately, by the handler and Verifier
// respectively — this only guards the shape of the event itself.
func ValidateWebhookEvent(event types.WebhookEvent) []ValidationError {
	c := &Collector{}
	c.Add(ValidateRequired("platform", event.Platform))
	c.Add(ValidateNoNullBytes("platform", event.Platform))

	// event_type is sender-supplied metadata, not every platform sets
	// X-Event-Type, so it's bounded but not required.
	if event.EventType != "" {
		c.Add(ValidateMaxLength("event_type", event.EventType, MaxEventTypeLength))
		c.Add(ValidateUTF8("event_type", event.EventType))
	}

	if len(event.Payload) == 0 {
		c.Add(&ValidationError{Field: "payload", Message: "is required and must not be empty"})
	} else if !utf8JSON(event.Payload) {
		c.Add(&ValidationError{Field: "payload", Message: "must be valid UTF-8"})
	}

	return c.Errors()
}

func utf8JSON(raw []byte) bool {
	return utf8.Valid(raw)
}

// ValidatePushRequest validates a sync push's (kind, collection) pair
// before it reaches apply_local — apply_local itself trusts its caller on
// payload shape, decoding it opaquely as json.RawMessage, so this is the
// one place a malformed kind or an oversized collection name gets caught
// (spec.md §4.2, §4.3).
func ValidatePushRequest(kind string, collection string) []ValidationError {
	c := &Collector{}
	c.Add(ValidateRequired("kind", kind))
	c.Add(ValidateEnum("kind", kind, ValidDeltaKinds))

	if collection != "" {
		c.Add(ValidateMaxLength("collection", collection, MaxCollectionLength))
		c.Add(ValidateNoNullBytes("collection", collection))
	}

	return c.Errors()
}

// ValidatePositionPayload validates a DeltaPositionUpdate's decoded payload.
func ValidatePositionPayload(p syncstore.PositionPayload) []ValidationError {
	c := &Collector{}
	c.Add(ValidateRequired("payload.content_id", p.ContentID))
	c.Add(ValidateMaxLength("payload.content_id", p.ContentID, MaxItemIDLength))
	if p.PositionSeconds < 0 {
		c.Add(&ValidationError{Field: "payload.position_seconds", Message: "must not be negative"})
	}
	if p.DurationSeconds < 0 {
		c.Add(&ValidationError{Field: "payload.duration_seconds", Message: "must not be negative"})
	}
	return c.Errors()
}

// ValidateWatchlistAddPayload validates a DeltaWatchlistAdd's decoded payload.
func ValidateWatchlistAddPayload(p syncstore.WatchlistAddPayload) []ValidationError {
	c := &Collector{}
	c.Add(ValidateRequired("payload.item", p.Item))
	c.Add(ValidateMaxLength("payload.item", p.Item, MaxItemIDLength))
	return c.Errors()
}

// ValidateWatchlistRemovePayload validates a DeltaWatchlistRemove's decoded payload.
func ValidateWatchlistRemovePayload(p syncstore.WatchlistRemovePayload) []ValidationError {
	c := &Collector{}
	c.Add(ValidateRequired("payload.item", p.Item))
	c.Add(ValidateMaxLength("payload.item", p.Item, MaxItemIDLength))
	return c.Errors()
}
