// Aggregator condenses the raw readings stored by meter_collector into
// hourly, daily and monthly energy figures and drops raw rows once they
// are old and aggregated.
package aggregator

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/meterdb"
	"github.com/sirupsen/logrus"
)

// aggregateLivePower averages the live power per reading type over the
// timeframe and stores it as watthours.
func aggregateLivePower(db *sql.DB, tf Timeframe, start int64) error {
	end := tf.End(start)

	rows, err := db.Query(`
		SELECT reading_type, AVG(watt), COUNT(*)
		FROM live_power_readings
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY reading_type`, start, end)
	if err != nil {
		return err
	}
	defer rows.Close()

	avgWatt := make(map[meterdb.MeterDbPowerReadingType]float64)
	var samples uint32
	for rows.Next() {
		var readingType meterdb.MeterDbPowerReadingType
		var avg float64
		var count uint32
		if err := rows.Scan(&readingType, &avg, &count); err != nil {
			return err
		}
		avgWatt[readingType] = avg
		samples += count
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if samples == 0 {
		return nil
	}

	// Average watt over n hours = n * average watthours
	hours := float64(end+1-start) / 3600
	wh := func(t meterdb.MeterDbPowerReadingType) uint32 { return uint32(avgWatt[t] * hours) }

	_, err = db.Exec(`
		INSERT OR REPLACE INTO `+tf.table()+`
		(period_start, consumption_day_wh, consumption_night_wh, production_day_wh, production_night_wh, sample_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		start,
		wh(meterdb.PowerConsumptionDay),
		wh(meterdb.PowerConsumptionNight),
		wh(meterdb.PowerProductionDay),
		wh(meterdb.PowerProductionNight),
		samples,
	)
	return err
}

// snapshotTotalGas keeps the last gas standing seen within the hour.
func snapshotTotalGas(db *sql.DB, hourStart int64) error {
	var dm3 uint32
	err := db.QueryRow(`
		SELECT consumption_dm3
		FROM total_gas_readings
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT 1`, hourStart, Hourly.End(hourStart)).Scan(&dm3)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = db.Exec("INSERT OR REPLACE INTO snapshot_total_gas_hourly (timestamp, dm3_standing) VALUES (?, ?)", hourStart, dm3)
	return err
}

// cleanupOldData removes raw rows older than the cutoff, but only when the
// hourly aggregates already reach past it.
func cleanupOldData(db *sql.DB, cutoff int64) (bool, error) {
	var lastHour sql.NullInt64
	if err := db.QueryRow("SELECT MAX(period_start) FROM aggregate_live_power_hourly").Scan(&lastHour); err != nil {
		return false, err
	}
	if !lastHour.Valid || lastHour.Int64 < cutoff {
		return false, nil
	}

	for _, table := range []string{"live_power_readings", "total_power_readings", "total_gas_readings"} {
		if _, err := db.Exec("DELETE FROM "+table+" WHERE timestamp < ?", cutoff); err != nil {
			return false, err
		}
	}
	return true, nil
}

// AggregateAndCleanup aggregates the hour before now, the previous day and
// month when now is the first hour of one, then runs the cleanup.
func AggregateAndCleanup(db *sql.DB, now time.Time, opts Options, log logrus.FieldLogger) error {
	now = now.UTC()

	// Current hour is still ongoing
	hourStart := Hourly.Start(now.Add(-time.Hour))
	log.Debugf("Aggregating hour starting at %s", time.Unix(hourStart, 0).UTC().Format(time.RFC3339))
	if err := aggregateLivePower(db, Hourly, hourStart); err != nil {
		return err
	}
	if err := snapshotTotalGas(db, hourStart); err != nil {
		return err
	}

	if now.Hour() == 0 {
		if err := aggregateLivePower(db, Daily, Daily.Start(now.AddDate(0, 0, -1))); err != nil {
			return err
		}
		if now.Day() == 1 {
			if err := aggregateLivePower(db, Monthly, Monthly.Start(now.AddDate(0, -1, 0))); err != nil {
				return err
			}
		}
	}

	cutoff := now.Add(-opts.Retention)
	cleaned, err := cleanupOldData(db, cutoff.Unix())
	if err != nil {
		return err
	}
	if cleaned {
		log.Infof("Cleaned up data older than %s", cutoff.Format(time.RFC3339))
	}
	return nil
}

// Run aggregates every opts.Interval until ctx is done. Failures are logged
// and retried on the next tick.
func Run(ctx context.Context, db *sql.DB, opts Options, log logrus.FieldLogger) {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := AggregateAndCleanup(db, now, opts, log); err != nil {
				log.Errorf("Aggregation failed: %v", err)
			}
		}
	}
}
