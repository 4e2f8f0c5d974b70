package providers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func testCPSCourse(requiresLogin bool) Course {
	return Course{
		ID:          12,
		Name:        "Pine Valley",
		ExternalAPI: CPS,
		ExternalAPIAttributes: []byte(`{
			"subdomain": "pinevalley",
			"params": {"holes": "18", "courseIds": "1"},
			"headers": {"x-apiKey": "abc123"}
		}`),
		RequiresLogin: requiresLogin,
	}
}

func testCPSProvider(rt http.RoundTripper, tracker ErrorTracker) *CPSProvider {
	if tracker == nil {
		tracker = &recordTracker{}
	}
	var client *RetryClient = testRetryClient(rt, tracker)
	return NewCPSProvider(client, testLog(), tracker, CPSLogin{
		Username:     "svc",
		Password:     "secret",
		ClientID:     "js1",
		ClientSecret: "v4secret",
	})
}

func TestCPSParseNoTeeTimes(t *testing.T) {
	var p *CPSProvider = testCPSProvider(nil, nil)
	var teeTimes []TeeTime
	var err error
	teeTimes, err = p.parseTeeTimes(testCPSCourse(false), "pinevalley", []byte(`{"messageKey":"NO_TEETIMES"}`))
	if err != nil {
		t.Fatalf("NO_TEETIMES must parse cleanly, got error: %v", err)
	}
	if len(teeTimes) != 0 {
		t.Errorf("got %d tee times, want 0", len(teeTimes))
	}
}

func TestCPSParseUnexpectedShape(t *testing.T) {
	var p *CPSProvider = testCPSProvider(nil, nil)
	_, err := p.parseTeeTimes(testCPSCourse(false), "pinevalley", []byte(`{"messageKey":"MAINTENANCE"}`))
	if err == nil {
		t.Fatal("an unknown message object must be an error, not an empty day")
	}
}

func TestCPSHolesSplitting(t *testing.T) {
	var body string = `[{
		"startTime": "2025-05-01T07:05:00",
		"holesDisplay": "9 or 18",
		"minPlayer": 1,
		"maxPlayer": 4,
		"availableParticipantNo": [1, 2, 3, 4],
		"startingTee": 1,
		"shItemPrices": [
			{"shItemCode": "GreenFee9", "currentPrice": 30},
			{"shItemCode": "GreenFee18", "currentPrice": 55.5}
		]
	}]`

	var p *CPSProvider = testCPSProvider(nil, nil)
	var teeTimes []TeeTime
	var err error
	teeTimes, err = p.parseTeeTimes(testCPSCourse(false), "pinevalley", []byte(body))
	if err != nil {
		t.Fatalf("parseTeeTimes: %v", err)
	}
	if len(teeTimes) != 2 {
		t.Fatalf("got %d tee times, want 2 (one per holes alternative)", len(teeTimes))
	}

	if teeTimes[0].Holes != 9 || teeTimes[1].Holes != 18 {
		t.Errorf("holes = %d, %d; want 9, 18", teeTimes[0].Holes, teeTimes[1].Holes)
	}
	if teeTimes[0].TeeTimeID == teeTimes[1].TeeTimeID {
		t.Error("the 9- and 18-hole variants must have distinct ids")
	}
	if teeTimes[0].TeeTimeID != "12202505010705-9-1" {
		t.Errorf("9-hole id = %q, want %q", teeTimes[0].TeeTimeID, "12202505010705-9-1")
	}
	if teeTimes[1].TeeTimeID != "12202505010705-18-1" {
		t.Errorf("18-hole id = %q, want %q", teeTimes[1].TeeTimeID, "12202505010705-18-1")
	}
	if teeTimes[0].Price == nil || *teeTimes[0].Price != 30 {
		t.Errorf("9-hole price = %v, want 30", teeTimes[0].Price)
	}
	if teeTimes[1].Price == nil || *teeTimes[1].Price != 55.5 {
		t.Errorf("18-hole price = %v, want 55.5", teeTimes[1].Price)
	}
}

func TestCPSParticipantsRange(t *testing.T) {
	var body string = `[{
		"startTime": "2025-05-01T09:30:00",
		"holesDisplay": "18",
		"minPlayer": 2,
		"maxPlayer": 4,
		"availableParticipantNo": [2, 3, 4],
		"startingTee": 10,
		"shItemPrices": [{"shItemCode": "GreenFee18", "currentPrice": 80}]
	}]`

	var p *CPSProvider = testCPSProvider(nil, nil)
	var teeTimes []TeeTime
	var err error
	teeTimes, err = p.parseTeeTimes(testCPSCourse(false), "pinevalley", []byte(body))
	if err != nil {
		t.Fatalf("parseTeeTimes: %v", err)
	}
	if len(teeTimes) != 1 {
		t.Fatalf("got %d tee times, want 1", len(teeTimes))
	}

	var tt TeeTime = teeTimes[0]
	if len(tt.AvailableParticipants) != 3 || tt.AvailableParticipants[0] != 2 || tt.AvailableParticipants[2] != 4 {
		t.Errorf("participants = %v, want [2 3 4]", tt.AvailableParticipants)
	}
	if tt.PlayersAvailable != 3 {
		t.Errorf("players available = %d, want 3", tt.PlayersAvailable)
	}
	if tt.StartingTee != 10 {
		t.Errorf("starting tee = %d, want 10", tt.StartingTee)
	}
	if !strings.HasSuffix(tt.TeeTimeID, "-18-10") {
		t.Errorf("id = %q, want starting tee 10 suffix", tt.TeeTimeID)
	}
	if tt.BookingLink != "https://pinevalley.cps.golf" {
		t.Errorf("booking link = %q", tt.BookingLink)
	}
	if len(tt.BookingLinks) != 3 || tt.BookingLinks[3] != tt.BookingLink {
		t.Errorf("booking links = %v", tt.BookingLinks)
	}
}

func TestCPSPriceChain(t *testing.T) {
	var tests = []struct {
		name   string
		prices []cpsItemPrice
		want   *float64
	}{
		{
			name:   "green fee wins",
			prices: []cpsItemPrice{{ShItemCode: "GreenFee18", CurrentPrice: "60"}, {ShItemCode: "Package18", CurrentPrice: "90"}},
			want:   floatPtr(60),
		},
		{
			name:   "package fallback",
			prices: []cpsItemPrice{{ShItemCode: "Package18", CurrentPrice: "90"}},
			want:   floatPtr(90),
		},
		{
			name:   "online fallback",
			prices: []cpsItemPrice{{ShItemCode: "GreenFee18Online", CurrentPrice: "75"}},
			want:   floatPtr(75),
		},
		{
			name:   "zero is a real price",
			prices: []cpsItemPrice{{ShItemCode: "GreenFee18", CurrentPrice: "0"}},
			want:   floatPtr(0),
		},
		{
			name:   "no matching sku",
			prices: []cpsItemPrice{{ShItemCode: "CartFee", CurrentPrice: "20"}},
			want:   nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got *float64 = resolveCPSPrice(tc.prices, "18")
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			if got != nil && *got != *tc.want {
				t.Errorf("got %v, want %v", *got, *tc.want)
			}
		})
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestCPSMissingPriceEscalatesButKeepsSlot(t *testing.T) {
	var body string = `[{
		"startTime": "2025-05-01T11:00:00",
		"holesDisplay": "18",
		"minPlayer": 1,
		"maxPlayer": 4,
		"availableParticipantNo": [1, 2],
		"shItemPrices": []
	}]`

	var tracker recordTracker
	var p *CPSProvider = testCPSProvider(nil, &tracker)
	var teeTimes []TeeTime
	var err error
	teeTimes, err = p.parseTeeTimes(testCPSCourse(false), "pinevalley", []byte(body))
	if err != nil {
		t.Fatalf("parseTeeTimes: %v", err)
	}
	if len(teeTimes) != 1 {
		t.Fatalf("got %d tee times, want 1 (slot kept despite missing price)", len(teeTimes))
	}
	if teeTimes[0].Price != nil {
		t.Errorf("price = %v, want nil", *teeTimes[0].Price)
	}
	if tracker.count() != 1 {
		t.Errorf("tracker captured %d errors, want 1 (price anomaly)", tracker.count())
	}
}

func TestCPSDefaultStartingTee(t *testing.T) {
	var body string = `[{
		"startTime": "2025-05-01T08:00:00",
		"holesDisplay": "18",
		"minPlayer": 1,
		"maxPlayer": 1,
		"availableParticipantNo": [1],
		"shItemPrices": [{"shItemCode": "GreenFee18", "currentPrice": 50}]
	}]`

	var p *CPSProvider = testCPSProvider(nil, nil)
	teeTimes, err := p.parseTeeTimes(testCPSCourse(false), "pinevalley", []byte(body))
	if err != nil {
		t.Fatalf("parseTeeTimes: %v", err)
	}
	if teeTimes[0].StartingTee != 1 {
		t.Errorf("starting tee = %d, want default 1", teeTimes[0].StartingTee)
	}
}

func TestCPSFetchWithLogin(t *testing.T) {
	var searchDate time.Time = time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	var tokenForm string
	var dataReq *http.Request
	var rt roundTripFunc = func(r *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/identityapi/connect/token"):
			var raw []byte
			raw, _ = io.ReadAll(r.Body)
			tokenForm = string(raw)
			return jsonResponse(200, `{"access_token":"tok-xyz","expires_in":3600}`), nil
		case strings.Contains(r.URL.Path, "/onlinereservation/TeeTimes"):
			dataReq = r
			return jsonResponse(200, `[]`), nil
		default:
			t.Errorf("unexpected request to %s", r.URL)
			return jsonResponse(404, "{}"), nil
		}
	}

	var p *CPSProvider = testCPSProvider(rt, nil)
	var result FetchResult
	var err error
	result, err = p.Fetch(context.Background(), testCPSCourse(true), searchDate)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Error != nil {
		t.Fatalf("result.Error = %v", result.Error)
	}
	if result.CourseID != 12 || result.Date != "2025-05-01" {
		t.Errorf("result identity = (%d, %s)", result.CourseID, result.Date)
	}

	if !strings.Contains(tokenForm, "grant_type=password") || !strings.Contains(tokenForm, "client_id=js1") {
		t.Errorf("token form = %q, want password grant with client_id", tokenForm)
	}

	if dataReq == nil {
		t.Fatal("tee times endpoint was never called")
	}
	if dataReq.Host != "pinevalley.cps.golf" {
		t.Errorf("data request host = %q", dataReq.Host)
	}
	if dataReq.Header.Get("Authorization") != "Bearer tok-xyz" {
		t.Errorf("Authorization = %q", dataReq.Header.Get("Authorization"))
	}
	if dataReq.Header.Get("x-apiKey") != "abc123" {
		t.Errorf("course header not forwarded, x-apiKey = %q", dataReq.Header.Get("x-apiKey"))
	}
	if dataReq.Header.Get("x-requestid") == "" {
		t.Error("x-requestid missing")
	}
	if got := dataReq.URL.Query().Get("searchDate"); got != "Thu May 01 2025" {
		t.Errorf("searchDate = %q, want %q", got, "Thu May 01 2025")
	}
	if got := dataReq.URL.Query().Get("holes"); got != "18" {
		t.Errorf("params not forwarded, holes = %q", got)
	}
}

func TestCPSFetchTokenFailureIsFatal(t *testing.T) {
	var dataCalled bool
	var rt roundTripFunc = func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/identityapi/connect/token") {
			return jsonResponse(500, `{"error":"identity down"}`), nil
		}
		dataCalled = true
		return jsonResponse(200, `[]`), nil
	}

	var p *CPSProvider = testCPSProvider(rt, nil)
	var result FetchResult
	var err error
	result, err = p.Fetch(context.Background(), testCPSCourse(true), time.Now())
	if err != nil {
		t.Fatalf("a token failure is a provider failure, not a config error: %v", err)
	}
	if result.Error == nil {
		t.Fatal("result.Error = nil, want token failure")
	}
	if len(result.TeeTimes) != 0 {
		t.Error("a failed fetch must not partially report tee times")
	}
	if dataCalled {
		t.Error("tee times endpoint called despite token failure")
	}
}

func TestCPSFetchSkipsLoginWhenNotRequired(t *testing.T) {
	var sawToken bool
	var rt roundTripFunc = func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/identityapi/connect/token") {
			sawToken = true
		}
		return jsonResponse(200, `{"messageKey":"NO_TEETIMES"}`), nil
	}

	var p *CPSProvider = testCPSProvider(rt, nil)
	result, err := p.Fetch(context.Background(), testCPSCourse(false), time.Now())
	if err != nil || result.Error != nil {
		t.Fatalf("Fetch: err=%v result.Error=%v", err, result.Error)
	}
	if sawToken {
		t.Error("token endpoint hit for a course that does not require login")
	}
}

func TestCPSFetchMalformedAttributes(t *testing.T) {
	var course Course = testCPSCourse(false)
	course.ExternalAPIAttributes = []byte(`{"subdomain": 42}`)

	var p *CPSProvider = testCPSProvider(nil, nil)
	_, err := p.Fetch(context.Background(), course, time.Now())
	if err == nil {
		t.Fatal("malformed attributes must fail the dispatch, not produce a FetchResult")
	}
}

func TestCPSFetchMissingSubdomain(t *testing.T) {
	var course Course = testCPSCourse(false)
	course.ExternalAPIAttributes = []byte(`{"params": {}}`)

	var p *CPSProvider = testCPSProvider(nil, nil)
	_, err := p.Fetch(context.Background(), course, time.Now())
	if err == nil {
		t.Fatal("missing subdomain must fail the dispatch")
	}
}

func TestSplitHolesDisplay(t *testing.T) {
	var tests = []struct {
		in   string
		want []string
	}{
		{"18", []string{"18"}},
		{"9", []string{"9"}},
		{"9 or 18", []string{"9", "18"}},
		{"9 OR 18", []string{"9", "18"}},
	}
	for _, tc := range tests {
		var got []string = splitHolesDisplay(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("splitHolesDisplay(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitHolesDisplay(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}
