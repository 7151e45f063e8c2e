package aggregator

import "time"

type Timeframe uint8

const (
	Hourly Timeframe = iota
	Daily
	Monthly
)

func (tf Timeframe) String() string {
	switch tf {
	case Daily:
		return "daily"
	case Monthly:
		return "monthly"
	}
	return "hourly"
}

func (tf Timeframe) table() string {
	return "aggregate_live_power_" + tf.String()
}

// Start returns the Unix timestamp of the start of the timeframe holding t.
func (tf Timeframe) Start(t time.Time) int64 {
	t = t.UTC()
	switch tf {
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Unix()
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// End returns the last second of the timeframe starting at start.
func (tf Timeframe) End(start int64) int64 {
	t := time.Unix(start, 0).UTC()
	switch tf {
	case Daily:
		return t.AddDate(0, 0, 1).Unix() - 1
	case Monthly:
		return t.AddDate(0, 1, 0).Unix() - 1
	}
	return t.Add(time.Hour).Unix() - 1
}

type Options struct {
	// Raw readings older than this are removed once aggregated
	Retention time.Duration
	Interval  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Retention: 90 * 24 * time.Hour,
		Interval:  time.Hour,
	}
}
