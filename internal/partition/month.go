// Package partition derives the year-month partition component used by the
// chat table. Chats are partitioned by (broadcaster_id, year_month) so that
// one broadcaster's history is spread over month-sized partitions; range
// queries walk the months between start and end.
package partition

import "time"

// Month returns the 6-digit YYYYMM integer for a millisecond epoch
// timestamp, interpreted in UTC. It is the only way year_month values are
// produced, so a stored row's year_month is always derivable from its
// timestamp.
func Month(timestampMs int64) int32 {
	t := time.Unix(timestampMs/1000, 0).UTC()
	return int32(t.Year())*100 + int32(t.Month())
}

// Next returns the year-month following ym, rolling December into January
// of the next year.
func Next(ym int32) int32 {
	year := ym / 100
	month := ym % 100

	if month == 12 {
		return (year+1)*100 + 1
	}
	return ym + 1
}
