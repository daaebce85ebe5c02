package store

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const microsPerDay = int64(24 * time.Hour / time.Microsecond)

// durationToPgInterval converts a duration into a PostgreSQL interval with whole days split out.
func durationToPgInterval(d time.Duration) pgtype.Interval {
	us := d.Microseconds()
	return pgtype.Interval{
		Microseconds: us % microsPerDay,
		Days:         int32(us / microsPerDay),
		Valid:        true,
	}
}

// pgIntervalToDuration converts an interval back into a duration. Months have no
// fixed length and are rejected.
func pgIntervalToDuration(iv pgtype.Interval) (time.Duration, error) {
	if !iv.Valid {
		return 0, fmt.Errorf("interval is null")
	}
	if iv.Months != 0 {
		return 0, fmt.Errorf("interval with months is not supported: %d", iv.Months)
	}
	return time.Duration(iv.Days)*24*time.Hour + time.Duration(iv.Microseconds)*time.Microsecond, nil
}

// parseInterval parses the text form lib/pq returns for INTERVAL columns.
func parseInterval(s string) (time.Duration, error) {
	var iv pgtype.Interval
	if err := iv.Scan(s); err != nil {
		return 0, fmt.Errorf("scan interval %q: %w", s, err)
	}
	return pgIntervalToDuration(iv)
}
