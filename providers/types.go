package providers

import (
	"encoding/json"
	"fmt"
)

const (
	CPS              = "CPS"
	ChronoLightspeed = "CHRONO_LIGHTSPEED"
)

// Course identifies one golf course and how to reach its booking backend.
// Rows are loaded fresh per run from the courses table; the attribute bag is
// opaque to everything except the adapter selected by ExternalAPI.
type Course struct {
	ID                         int             `json:"id"`
	Name                       string          `json:"name"`
	DisplayName                string          `json:"display_name"`
	ClubName                   string          `json:"club_name"`
	City                       string          `json:"city"`
	Timezone                   string          `json:"timezone"`
	ExternalAPI                string          `json:"external_api"`
	ExternalAPIAttributes      json.RawMessage `json:"external_api_attributes"`
	BookingVisibilityDays      int             `json:"booking_visibility_days"`
	BookingVisibilityStartTime string          `json:"booking_visibility_start_time"`
	RequiresLogin              bool            `json:"requires_login"`
}

// TeeTime is one bookable slot in the canonical, provider-independent shape.
// StartDatetime is the local wall-clock datetime string as persisted
// ("2006-01-02T15:04" or with seconds, depending on provider); Price is nil
// when no price could be resolved, which is distinct from an explicit zero.
type TeeTime struct {
	TeeTimeID             string         `json:"tee_time_id"`
	StartDatetime         string         `json:"start_datetime"`
	PlayersAvailable      int            `json:"players_available"`
	AvailableParticipants []int          `json:"available_participants"`
	Holes                 int            `json:"holes"`
	StartingTee           int            `json:"starting_tee"`
	Price                 *float64       `json:"price"`
	BookingLink           string         `json:"booking_link"`
	BookingLinks          map[int]string `json:"booking_links"`
}

// FetchError is a provider-level failure: the upstream rejected or never
// answered after all retries. StatusCode is 0 for network-level failures.
type FetchError struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message"`
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// Expected reports whether the failure is a routine provider rejection
// (geofencing, anti-bot, rate limiting) rather than an upstream outage.
func (e *FetchError) Expected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// FetchResult is one course/date outcome handed to the persistence gateway.
// When Error is set TeeTimes is always empty; a failed fetch never
// partially-reports.
type FetchResult struct {
	CourseID int         `json:"course_id"`
	Date     string      `json:"date"`
	TeeTimes []TeeTime   `json:"tee_times"`
	Error    *FetchError `json:"error,omitempty"`
}

// UnsupportedProviderError means a course row names an external API no
// registered adapter handles. It is a configuration error and fails the
// dispatch immediately, without a FetchResult.
type UnsupportedProviderError struct {
	API string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported external API: %q", e.API)
}

// ErrorTracker receives failures worth paging on. Expected 4xx outcomes are
// never reported through it.
type ErrorTracker interface {
	CaptureError(err error, tags map[string]string)
}
