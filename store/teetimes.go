// Package store is the narrow interface to the Supabase persistence layer:
// course catalog reads and chunked tee-time upserts. Everything else in the
// fetcher treats it as an external sink.
package store

import (
	"time"

	"github.com/sirupsen/logrus"
	supa "github.com/supabase-community/supabase-go"

	"teeclub-fetcher/providers"
)

// TeeTimeRow is the upsert shape for one (course_id, date). The full day's
// slot list is replaced on conflict, never merged.
type TeeTimeRow struct {
	CourseID      int                 `json:"course_id"`
	Date          string              `json:"date"`
	TeeTimesData  []providers.TeeTime `json:"tee_times_data"`
	TeeTimesCount int                 `json:"tee_times_count"`
	UpdatedAt     string              `json:"updated_at"`
}

type BatchError struct {
	Batch int    `json:"batch"`
	Error string `json:"error"`
}

type UpsertSummary struct {
	TotalProcessed int
	TotalBatches   int
	Errors         []BatchError
}

type Store struct {
	client *supa.Client
	log    *logrus.Entry
	now    func() time.Time
}

func New(supabaseURL, serviceKey string, log *logrus.Entry) (*Store, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, log: log, now: time.Now}, nil
}

// UpsertTeeTimes chunks the results and upserts each chunk independently,
// keyed on (course_id, date). A failed chunk is recorded and the run moves on
// to the next one; callers decide what any errors mean for the run outcome.
func (s *Store) UpsertTeeTimes(results []providers.FetchResult, batchSize int) UpsertSummary {
	var rows []TeeTimeRow = make([]TeeTimeRow, 0, len(results))
	var updatedAt string = s.now().UTC().Format(time.RFC3339)
	for _, result := range results {
		rows = append(rows, TeeTimeRow{
			CourseID:      result.CourseID,
			Date:          result.Date,
			TeeTimesData:  result.TeeTimes,
			TeeTimesCount: len(result.TeeTimes),
			UpdatedAt:     updatedAt,
		})
	}
	return upsertInBatches(rows, batchSize, s.upsertRows, s.log)
}

func (s *Store) upsertRows(rows []TeeTimeRow) error {
	_, _, err := s.client.From("tee_times").
		Insert(rows, true, "course_id,date", "minimal", "").
		Execute()
	return err
}

// upsertInBatches is the chunking loop, factored out so the isolation
// behavior is testable without a live PostgREST endpoint.
func upsertInBatches(rows []TeeTimeRow, batchSize int, upsert func([]TeeTimeRow) error, log *logrus.Entry) UpsertSummary {
	if batchSize <= 0 {
		batchSize = 100
	}

	var summary UpsertSummary = UpsertSummary{TotalProcessed: len(rows)}
	for start := 0; start < len(rows); start += batchSize {
		var end int = start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		summary.TotalBatches++

		var err error = upsert(rows[start:end])
		if err != nil {
			log.WithFields(logrus.Fields{"batch": summary.TotalBatches, "rows": end - start}).
				WithError(err).Error("tee time batch upsert failed")
			summary.Errors = append(summary.Errors, BatchError{
				Batch: summary.TotalBatches,
				Error: err.Error(),
			})
			continue
		}
		log.WithFields(logrus.Fields{"batch": summary.TotalBatches, "rows": end - start}).
			Debug("tee time batch upserted")
	}
	return summary
}
