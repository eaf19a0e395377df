package membership

import "time"

// Anomaly names a data-quality problem found while normalizing a period.
type Anomaly string

const (
	AnomalyMissingStart     Anomaly = "missing_start"
	AnomalyMissingEnd       Anomaly = "missing_end"
	AnomalyInvertedPeriod   Anomaly = "inverted_period"
	AnomalyMillisecondEpoch Anomaly = "millisecond_epoch"
)

// millisecondThreshold separates epoch seconds from epoch milliseconds.
// 1e12 seconds is the year 33658; 1e12 milliseconds is September 2001.
const millisecondThreshold = 1_000_000_000_000

// EpochTime converts provider epoch seconds to an instant. Zero or negative
// values mean absent. Values that are already milliseconds are accepted and
// reported so the upstream mismatch is visible.
func EpochTime(v int64) (t time.Time, ms bool) {
	switch {
	case v <= 0:
		return time.Time{}, false
	case v >= millisecondThreshold:
		return time.UnixMilli(v).UTC(), true
	default:
		return time.Unix(v, 0).UTC(), false
	}
}

// NormalizePeriod builds a valid period from provider epoch seconds.
//
// A missing start becomes now and a missing end becomes start plus
// DefaultPeriodLength. An end at or before start is discarded and
// recomputed the same way. Every substitution is reported so the caller
// can log it.
func NormalizePeriod(startSec, endSec int64, now time.Time) (Period, []Anomaly) {
	var anomalies []Anomaly

	start, ms := EpochTime(startSec)
	if ms {
		anomalies = append(anomalies, AnomalyMillisecondEpoch)
	}
	end, ms := EpochTime(endSec)
	if ms && len(anomalies) == 0 {
		anomalies = append(anomalies, AnomalyMillisecondEpoch)
	}

	if start.IsZero() {
		start = now.UTC().Truncate(time.Second)
		anomalies = append(anomalies, AnomalyMissingStart)
	}

	switch {
	case end.IsZero():
		end = start.Add(DefaultPeriodLength)
		anomalies = append(anomalies, AnomalyMissingEnd)
	case !end.After(start):
		end = start.Add(DefaultPeriodLength)
		anomalies = append(anomalies, AnomalyInvertedPeriod)
	}

	return Period{Start: start, End: end}, anomalies
}

// EnsureValid repairs a period obtained from any other source (for example
// a stored row) using the same substitution policy as NormalizePeriod.
func EnsureValid(p Period, now time.Time) (Period, []Anomaly) {
	var startSec, endSec int64
	if !p.Start.IsZero() {
		startSec = p.Start.Unix()
	}
	if !p.End.IsZero() {
		endSec = p.End.Unix()
	}
	return NormalizePeriod(startSec, endSec, now)
}
