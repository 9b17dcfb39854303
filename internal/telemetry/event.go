// Package telemetry defines the device observations handed to the analysis
// pipeline. Events are plain values; nothing downstream mutates them.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"mtdguard/internal/common"
)

// ErrInvalidEvent wraps every validation failure at the ingestion boundary.
var ErrInvalidEvent = errors.New("invalid telemetry event")

// Event is implemented by SmsEvent, CallEvent and AppInstallEvent.
type Event interface {
	Kind() common.EventKind
	EventID() string
}

// CallType enumerates call directions.
type CallType string

const (
	CallIncoming CallType = "incoming"
	CallOutgoing CallType = "outgoing"
	CallMissed   CallType = "missed"
)

// SmsEvent is one received SMS. Body is optional; devices may forward only
// the extracted URLs and the on-device suspicion score.
type SmsEvent struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	SenderHash    string    `json:"sender_hash" validate:"required"`
	URLs          []string  `json:"extracted_urls" validate:"dive,required"`
	MessageLength int       `json:"message_length" validate:"gte=0"`
	Body          string    `json:"body,omitempty"`
	LocalScore    float64   `json:"is_suspicious_local_score" validate:"gte=0,lte=1"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e SmsEvent) Kind() common.EventKind { return common.EventSms }
func (e SmsEvent) EventID() string        { return e.ID }

// CallEvent is one call record.
type CallEvent struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	CallerHash      string    `json:"caller_hash" validate:"required"`
	CallType        CallType  `json:"call_type" validate:"required,oneof=incoming outgoing missed"`
	DurationSeconds int       `json:"duration" validate:"gte=0"`
	Blocked         bool      `json:"is_blocked"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e CallEvent) Kind() common.EventKind { return common.EventCall }
func (e CallEvent) EventID() string        { return e.ID }

// AppInstallEvent describes an installed package as reported by the device.
type AppInstallEvent struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	PackageName     string    `json:"package_name" validate:"required"`
	VersionCode     int64     `json:"version_code" validate:"gte=0"`
	SignatureDigest string    `json:"signature_digest"`
	InstallerSource *string   `json:"installer_source,omitempty"`
	Permissions     []string  `json:"permissions"`
	InstallTime     time.Time `json:"install_time"`
}

func (e AppInstallEvent) Kind() common.EventKind { return common.EventAppInstall }
func (e AppInstallEvent) EventID() string        { return e.ID }

// PermissionSet returns the normalized, deduplicated permissions.
func (e AppInstallEvent) PermissionSet() common.PermissionSet {
	return common.NewPermissionSet(e.Permissions)
}

var validate = validator.New()

// Validate checks struct constraints on a decoded event.
func Validate(ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if err := validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, ev.Kind(), err)
	}
	return nil
}
