package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CPSLogin is the fixed service account exchanged for a bearer token on
// courses that gate their tee sheet behind a login.
type CPSLogin struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// cpsAttributes is the CPS half of a course's external_api_attributes bag.
// Params and Headers are forwarded to the provider verbatim; only searchDate
// is added on top.
type cpsAttributes struct {
	Subdomain string                     `json:"subdomain"`
	Params    map[string]json.RawMessage `json:"params"`
	Headers   map[string]string          `json:"headers"`
}

type cpsSlot struct {
	StartTime              string         `json:"startTime"`
	HolesDisplay           string         `json:"holesDisplay"`
	MinPlayer              int            `json:"minPlayer"`
	MaxPlayer              int            `json:"maxPlayer"`
	AvailableParticipantNo []int          `json:"availableParticipantNo"`
	StartingTee            int            `json:"startingTee"`
	ShItemPrices           []cpsItemPrice `json:"shItemPrices"`
}

type cpsItemPrice struct {
	ShItemCode   string      `json:"shItemCode"`
	CurrentPrice json.Number `json:"currentPrice"`
}

type cpsMessage struct {
	MessageKey string `json:"messageKey"`
}

type cpsTokenResponse struct {
	AccessToken string `json:"access_token"`
}

// CPSProvider fetches tee times from CPS-hosted booking sites
// ({subdomain}.cps.golf). One data query per course/date, preceded by a token
// exchange when the course requires login.
type CPSProvider struct {
	client *RetryClient
	log    *logrus.Entry
	track  ErrorTracker
	login  CPSLogin
}

func NewCPSProvider(client *RetryClient, log *logrus.Entry, track ErrorTracker, login CPSLogin) *CPSProvider {
	return &CPSProvider{client: client, log: log, track: track, login: login}
}

func (p *CPSProvider) Fetch(ctx context.Context, course Course, searchDate time.Time) (FetchResult, error) {
	var result FetchResult = FetchResult{
		CourseID: course.ID,
		Date:     searchDate.Format("2006-01-02"),
	}

	var attrs cpsAttributes
	var err error
	err = json.Unmarshal(course.ExternalAPIAttributes, &attrs)
	if err != nil {
		return FetchResult{}, fmt.Errorf("course %d: malformed CPS attributes: %w", course.ID, err)
	}
	if attrs.Subdomain == "" {
		return FetchResult{}, fmt.Errorf("course %d: CPS attributes missing subdomain", course.ID)
	}

	var headers map[string]string = make(map[string]string, len(attrs.Headers)+2)
	for k, v := range attrs.Headers {
		headers[k] = v
	}
	headers["x-requestid"] = uuid.NewString()

	// Token-fetch failures are fatal for this call; there is no per-record
	// recovery without a valid bearer token.
	if course.RequiresLogin {
		var token string
		token, err = p.fetchToken(ctx, course.Name, attrs.Subdomain, attrs.Headers)
		if err != nil {
			result.Error = asFetchError(err)
			return result, nil
		}
		headers["Authorization"] = "Bearer " + token
	}

	var body []byte
	body, err = p.client.Get(ctx, course.Name, p.teeTimesURL(attrs, searchDate), headers, 5, 10*time.Second, time.Second)
	if err != nil {
		result.Error = asFetchError(err)
		return result, nil
	}

	var teeTimes []TeeTime
	teeTimes, err = p.parseTeeTimes(course, attrs.Subdomain, body)
	if err != nil {
		p.track.CaptureError(err, map[string]string{"course": course.Name})
		result.Error = &FetchError{Message: err.Error()}
		return result, nil
	}

	result.TeeTimes = teeTimes
	return result, nil
}

func (p *CPSProvider) teeTimesURL(attrs cpsAttributes, searchDate time.Time) string {
	var query url.Values = url.Values{}
	for key, raw := range attrs.Params {
		query.Set(key, rawToString(raw))
	}
	// CPS wants the date in its long form ("Mon Jan 02 2006"), not ISO.
	query.Set("searchDate", searchDate.Format("Mon Jan 02 2006"))
	return fmt.Sprintf("https://%s.cps.golf/onlineres/onlineapi/api/v1/onlinereservation/TeeTimes?%s", attrs.Subdomain, query.Encode())
}

func (p *CPSProvider) fetchToken(ctx context.Context, courseName, subdomain string, headers map[string]string) (string, error) {
	var form url.Values = url.Values{
		"grant_type":    {"password"},
		"username":      {p.login.Username},
		"password":      {p.login.Password},
		"client_id":     {p.login.ClientID},
		"client_secret": {p.login.ClientSecret},
	}
	var loginURL string = fmt.Sprintf("https://%s.cps.golf/identityapi/connect/token", subdomain)

	var body []byte
	var err error
	body, err = p.client.PostForm(ctx, courseName, loginURL, form, headers, 5, 19*time.Second, 2*time.Second)
	if err != nil {
		return "", err
	}

	var token cpsTokenResponse
	err = json.Unmarshal(body, &token)
	if err != nil || token.AccessToken == "" {
		return "", fmt.Errorf("[%s] token response missing access_token", courseName)
	}
	return token.AccessToken, nil
}

func (p *CPSProvider) parseTeeTimes(course Course, subdomain string, body []byte) ([]TeeTime, error) {
	var slots []cpsSlot
	var err error
	err = json.Unmarshal(body, &slots)
	if err != nil {
		// Zero availability arrives as an object, not an array.
		var msg cpsMessage
		if json.Unmarshal(body, &msg) == nil && msg.MessageKey == "NO_TEETIMES" {
			return nil, nil
		}
		return nil, fmt.Errorf("[%s] unexpected CPS response shape: %w", course.Name, err)
	}

	var bookingLink string = fmt.Sprintf("https://%s.cps.golf", subdomain)

	var teeTimes []TeeTime
	for _, slot := range slots {
		var start time.Time
		start, err = time.Parse("2006-01-02T15:04:05", slot.StartTime)
		if err != nil {
			return nil, fmt.Errorf("[%s] bad startTime %q: %w", course.Name, slot.StartTime, err)
		}

		var startingTee int = slot.StartingTee
		if startingTee == 0 {
			startingTee = 1
		}

		var participants []int
		for n := slot.MinPlayer; n <= slot.MaxPlayer; n++ {
			participants = append(participants, n)
		}

		var bookingLinks map[int]string = make(map[int]string, len(participants))
		for _, n := range participants {
			bookingLinks[n] = bookingLink
		}

		// A record may advertise "9", "18", or "9 or 18"; each alternative is
		// its own slot with its own price SKU.
		for _, holesStr := range splitHolesDisplay(slot.HolesDisplay) {
			var holes int
			holes, err = strconv.Atoi(holesStr)
			if err != nil {
				return nil, fmt.Errorf("[%s] bad holesDisplay %q", course.Name, slot.HolesDisplay)
			}

			var price *float64 = resolveCPSPrice(slot.ShItemPrices, holesStr)
			if price == nil {
				var priceErr error = fmt.Errorf("[%s] no price found for %s holes", course.Name, holesStr)
				p.log.WithFields(logrus.Fields{"course": course.Name, "holes": holesStr}).Warn("price lookup failed, emitting slot without price")
				p.track.CaptureError(priceErr, map[string]string{"course": course.Name})
			} else if *price == 0 {
				p.log.WithFields(logrus.Fields{"course": course.Name, "holes": holesStr}).Warn("provider reports zero price")
			}

			teeTimes = append(teeTimes, TeeTime{
				TeeTimeID:             cpsTeeTimeID(course.ID, start, holesStr, startingTee),
				StartDatetime:         start.Format("2006-01-02T15:04:05"),
				PlayersAvailable:      len(slot.AvailableParticipantNo),
				AvailableParticipants: participants,
				Holes:                 holes,
				StartingTee:           startingTee,
				Price:                 price,
				BookingLink:           bookingLink,
				BookingLinks:          bookingLinks,
			})
		}
	}

	return finalizeTeeTimes(teeTimes)
}

// cpsTeeTimeID is stable across re-fetches of the same slot so that repeated
// upserts collide instead of duplicating rows. Hour and minute are zero-padded
// so distinct start times can never alias.
func cpsTeeTimeID(courseID int, start time.Time, holesStr string, startingTee int) string {
	return fmt.Sprintf("%d%s%s-%s-%d", courseID, start.Format("20060102"), start.Format("1504"), holesStr, startingTee)
}

func splitHolesDisplay(display string) []string {
	var lowered string = strings.ToLower(strings.TrimSpace(display))
	if !strings.Contains(lowered, "or") {
		return []string{lowered}
	}
	var parts []string = strings.Split(lowered, "or")
	var out []string
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

// resolveCPSPrice walks the SKU chain for one hole count; first match wins.
// nil means no SKU matched, which is distinct from an explicit zero price.
func resolveCPSPrice(prices []cpsItemPrice, holesStr string) *float64 {
	var codes []string = []string{
		"GreenFee" + holesStr,
		"Package" + holesStr,
		"GreenFee" + holesStr + "Online",
	}
	for _, code := range codes {
		for _, item := range prices {
			if item.ShItemCode != code {
				continue
			}
			var value float64
			var err error
			value, err = item.CurrentPrice.Float64()
			if err != nil {
				continue
			}
			return &value
		}
	}
	return nil
}

func rawToString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func asFetchError(err error) *FetchError {
	if fe, ok := err.(*FetchError); ok {
		return fe
	}
	return &FetchError{Message: err.Error()}
}
