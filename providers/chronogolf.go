package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// partySizes are queried largest-first; the first query that reveals a start
// time also fixes that slot's raw capacity fields.
var partySizes = []int{4, 3, 2, 1}

// chronoAttributes is the Chrono/Lightspeed half of a course's
// external_api_attributes bag.
type chronoAttributes struct {
	ClubID            int    `json:"club_id"`
	CourseID          int    `json:"course_id"`
	AffiliationTypeID int    `json:"affiliation_type_id"`
	ClubLinkName      string `json:"club_link_name"`
	CourseHoles       []int  `json:"course_holes"`
}

type chronoSlot struct {
	ID            int               `json:"id"`
	Date          string            `json:"date"`
	StartTime     string            `json:"start_time"`
	OutOfCapacity bool              `json:"out_of_capacity"`
	Restrictions  []json.RawMessage `json:"restrictions"`
	GreenFees     []chronoGreenFee  `json:"green_fees"`
}

type chronoGreenFee struct {
	GreenFee json.Number `json:"green_fee"`
}

// ChronoProvider fetches tee times from the Chrono/Lightspeed marketplace.
// The search endpoint only reports availability for as many affiliation slots
// as the query asks for, so each course/date/holes fetch fans out into one
// request per party size and merges the union afterwards.
type ChronoProvider struct {
	client *RetryClient
	log    *logrus.Entry
	track  ErrorTracker
}

func NewChronoProvider(client *RetryClient, log *logrus.Entry, track ErrorTracker) *ChronoProvider {
	return &ChronoProvider{client: client, log: log, track: track}
}

func (p *ChronoProvider) Fetch(ctx context.Context, course Course, searchDate time.Time) (FetchResult, error) {
	var result FetchResult = FetchResult{
		CourseID: course.ID,
		Date:     searchDate.Format("2006-01-02"),
	}

	var attrs chronoAttributes
	var err error
	err = json.Unmarshal(course.ExternalAPIAttributes, &attrs)
	if err != nil {
		return FetchResult{}, fmt.Errorf("course %d: malformed Chrono attributes: %w", course.ID, err)
	}
	if attrs.ClubID == 0 || attrs.CourseID == 0 || len(attrs.CourseHoles) == 0 {
		return FetchResult{}, fmt.Errorf("course %d: Chrono attributes missing club_id, course_id or course_holes", course.ID)
	}

	// One fan-out per holes value, all in parallel.
	var mu sync.Mutex
	var allTeeTimes []TeeTime
	group, groupCtx := errgroup.WithContext(ctx)
	for _, holes := range attrs.CourseHoles {
		holes := holes
		group.Go(func() error {
			var teeTimes []TeeTime
			var fetchErr error
			teeTimes, fetchErr = p.fetchHoles(groupCtx, course, attrs, holes, searchDate)
			if fetchErr != nil {
				return fetchErr
			}
			mu.Lock()
			allTeeTimes = append(allTeeTimes, teeTimes...)
			mu.Unlock()
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		result.Error = asFetchError(err)
		return result, nil
	}

	var teeTimes []TeeTime
	teeTimes, err = finalizeTeeTimes(allTeeTimes)
	if err != nil {
		p.track.CaptureError(err, map[string]string{"course": course.Name})
		result.Error = &FetchError{Message: err.Error()}
		return result, nil
	}

	result.TeeTimes = teeTimes
	return result, nil
}

// fetchHoles runs the party-size fan-out for a single holes value. All four
// sub-requests must succeed: a missing party-size response would undercount
// availability, which is wrong rather than merely incomplete.
func (p *ChronoProvider) fetchHoles(ctx context.Context, course Course, attrs chronoAttributes, holes int, searchDate time.Time) ([]TeeTime, error) {
	var dateString string = searchDate.Format("2006-01-02")
	var baseURL string = fmt.Sprintf(
		"https://www.chronogolf.ca/marketplace/clubs/%d/teetimes?date=%s&course_id=%d&nb_holes=%d",
		attrs.ClubID, dateString, attrs.CourseID, holes,
	)
	var headers map[string]string = map[string]string{
		"Referer": fmt.Sprintf("https://www.chronogolf.com/en/club/%d/widget?medium=widget&source=club", attrs.ClubID),
	}

	var slotsBySize []([]chronoSlot) = make([][]chronoSlot, len(partySizes))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, players := range partySizes {
		i := i
		var fullURL string = baseURL
		for n := 0; n < players; n++ {
			fullURL += fmt.Sprintf("&affiliation_type_ids%%5B%%5D=%d", attrs.AffiliationTypeID)
		}
		group.Go(func() error {
			var body []byte
			var err error
			body, err = p.client.Get(groupCtx, course.Name, fullURL, headers, 5, 5*time.Second, time.Second)
			if err != nil {
				return err
			}
			var slots []chronoSlot
			err = json.Unmarshal(body, &slots)
			if err != nil {
				return fmt.Errorf("[%s] unexpected Chrono response shape: %w", course.Name, err)
			}
			slotsBySize[i] = slots
			return nil
		})
	}
	var err error = group.Wait()
	if err != nil {
		return nil, err
	}

	return p.mergeSlots(course, attrs, holes, searchDate, slotsBySize), nil
}

// mergeSlots indexes the per-party-size responses by start time. The same
// physical slot appears once per party size that still fits, so the union of
// party sizes that returned it is exactly its bookable range.
func (p *ChronoProvider) mergeSlots(course Course, attrs chronoAttributes, holes int, searchDate time.Time, slotsBySize [][]chronoSlot) []TeeTime {
	var order []string
	var merged map[string]chronoSlot = make(map[string]chronoSlot)
	var participants map[string][]int = make(map[string][]int)

	for i, players := range partySizes {
		for _, slot := range slotsBySize[i] {
			if slot.OutOfCapacity || len(slot.Restrictions) > 0 {
				continue
			}
			if _, ok := merged[slot.StartTime]; !ok {
				order = append(order, slot.StartTime)
				merged[slot.StartTime] = slot
			}
			participants[slot.StartTime] = append(participants[slot.StartTime], players)
		}
	}

	var teeTimes []TeeTime
	for _, startTime := range order {
		var slot chronoSlot = merged[startTime]
		var available []int = participants[startTime]
		sort.Ints(available)

		var playersAvailable int = len(slot.GreenFees)

		var price *float64
		if len(slot.GreenFees) > 0 {
			if value, err := slot.GreenFees[0].GreenFee.Float64(); err == nil {
				price = &value
			}
		}

		var bookingLinks map[int]string = make(map[int]string, len(available))
		for _, n := range available {
			bookingLinks[n] = chronoBookingLink(attrs, holes, searchDate, n, slot.ID)
		}

		teeTimes = append(teeTimes, TeeTime{
			TeeTimeID:             chronoTeeTimeID(course.ID, slot.Date, slot.StartTime, holes),
			StartDatetime:         slot.Date + "T" + slot.StartTime,
			PlayersAvailable:      playersAvailable,
			AvailableParticipants: available,
			Holes:                 holes,
			StartingTee:           1,
			Price:                 price,
			BookingLink:           chronoBookingLink(attrs, holes, searchDate, playersAvailable, slot.ID),
			BookingLinks:          bookingLinks,
		})
	}

	return teeTimes
}

// chronoTeeTimeID is stable across re-fetches; distinct holes values at the
// same timestamp stay distinct through the trailing component.
func chronoTeeTimeID(courseID int, date, startTime string, holes int) string {
	var dateCompact string = strings.ReplaceAll(date, "-", "")
	var timeCompact string = strings.ReplaceAll(startTime, ":", "")
	return fmt.Sprintf("%d%s%s-%d", courseID, dateCompact, timeCompact, holes)
}

// chronoBookingLink synthesizes the marketplace deep link; the API itself
// does not hand one back.
func chronoBookingLink(attrs chronoAttributes, holes int, date time.Time, players int, teetimeID int) string {
	var ids []string = make([]string, players)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", attrs.AffiliationTypeID)
	}
	return fmt.Sprintf(
		"https://www.chronogolf.ca/club/%s/booking/?source=club&medium=widget#/teetime/review?course_id=%d&nb_holes=%d&date=%s&affiliation_type_ids=%s&teetime_id=%d&is_deal=false&new_user=false",
		attrs.ClubLinkName, attrs.CourseID, holes, date.Format("2006-01-02"), strings.Join(ids, ","), teetimeID,
	)
}
