package providers

import (
	"fmt"
	"sort"
)

// finalizeTeeTimes applies the invariants every adapter's output must hold:
// slots nobody can book are dropped, the day's list is sorted by start time,
// and a duplicate tee_time_id is reported as an internal-consistency error
// rather than silently overwritten.
func finalizeTeeTimes(teeTimes []TeeTime) ([]TeeTime, error) {
	var kept []TeeTime
	for _, tt := range teeTimes {
		if len(tt.AvailableParticipants) == 0 {
			continue
		}
		kept = append(kept, tt)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].StartDatetime < kept[j].StartDatetime
	})

	var seen map[string]bool = make(map[string]bool, len(kept))
	for _, tt := range kept {
		if seen[tt.TeeTimeID] {
			return nil, fmt.Errorf("duplicate tee_time_id %q in normalized result", tt.TeeTimeID)
		}
		seen[tt.TeeTimeID] = true
	}

	return kept, nil
}
