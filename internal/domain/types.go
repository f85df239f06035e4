package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Prayer is one of the five canonical daily prayers.
type Prayer string

const (
	Fajr    Prayer = "fajr"
	Dhuhr   Prayer = "dhuhr"
	Asr     Prayer = "asr"
	Maghrib Prayer = "maghrib"
	Isha    Prayer = "isha"
)

// Prayers lists the canonical prayers in their order through the day.
var Prayers = []Prayer{Fajr, Dhuhr, Asr, Maghrib, Isha}

func (p Prayer) Valid() bool {
	for _, c := range Prayers {
		if p == c {
			return true
		}
	}
	return false
}

func ParsePrayer(s string) (Prayer, bool) {
	p := Prayer(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
)

func (s QueueStatus) Valid() bool {
	return s == QueuePending || s == QueueSent || s == QueueFailed
}

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

func (s DeliveryStatus) Valid() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// TestPrayer tags history rows written by the test-notification endpoint.
const TestPrayer = "TEST"

// DayDateLayout is the calendar-date format used for day keys.
const DayDateLayout = "2006-01-02"

const UnknownPlatform = "unknown"

var ErrMissingFields = errors.New("missing required fields")

var validate = validator.New(validator.WithRequiredStructEnabled())

type RegisterTokenRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"omitempty,max=32"`
	Username string `json:"username" validate:"omitempty,max=128"`
}

func (r RegisterTokenRequest) Validate() error {
	return validateStruct(r)
}

type TestNotificationRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

func (r TestNotificationRequest) Validate() error {
	return validateStruct(r)
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					return ErrMissingFields
				}
			}
			return errors.New(strings.ToLower(verrs[0].Field()) + " is invalid")
		}
		return err
	}
	return nil
}
