// MeterDB holds the readings stored by meter_collector.
// Only the collector writes to it, any service may read it.
package meterdb

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/NotCoffee418/meter_telegram/pkg/esmutils"
	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open the database at path and apply pending migrations.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open meter db: %w", err)
	}
	// Inserts and the aggregator share one connection, sqlite allows a single writer
	db.SetMaxOpenConns(1)

	// Create DB before migrations
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open meter db: %w", err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)
	log.Debugf("Meter db ready at %s", path)
	return &Store{db: db, log: log}, nil
}

// DB is shared with the aggregator.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertReading stores the live power, the energy registers and, when a
// gas meter is attached, its counter in one transaction.
func (s *Store) InsertReading(reading *types.MeterReading) error {
	live, total, gas := rowsFromReading(reading, time.Now())

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, l := range live {
		if err := insertLivePowerReading(tx, &l); err != nil {
			return err
		}
	}
	if err := insertTotalPowerReading(tx, &total); err != nil {
		return err
	}
	if gas != nil {
		if err := insertTotalGasReading(tx, gas); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// rowsFromReading maps a reading on the storage rows. Tariff one is the
// day tariff, tariff two the night tariff.
func rowsFromReading(r *types.MeterReading, now time.Time) ([]MeterDbLivePowerReading, MeterDbTotalPowerReading, *MeterDbTotalGasReading) {
	ts := r.Timestamp
	if ts == 0 {
		ts = now.Unix()
	}

	night := r.CurrentTariff == int(types.TariffTwo)
	consumption, production := PowerConsumptionDay, PowerProductionDay
	if night {
		consumption, production = PowerConsumptionNight, PowerProductionNight
	}

	var live []MeterDbLivePowerReading
	if w := esmutils.KwToW(r.PowerIn); w > 0 {
		live = append(live, MeterDbLivePowerReading{Timestamp: ts, Watt: w, ReadingType: consumption})
	}
	if w := esmutils.KwToW(r.PowerOut); w > 0 {
		live = append(live, MeterDbLivePowerReading{Timestamp: ts, Watt: w, ReadingType: production})
	}
	if len(live) == 0 {
		live = append(live, MeterDbLivePowerReading{Timestamp: ts, ReadingType: consumption})
	}

	total := MeterDbTotalPowerReading{
		Timestamp:               ts,
		TotalConsumptionDayWh:   esmutils.KwhToWh(r.EnergyIn[types.TariffOne]),
		TotalProductionDayWh:    esmutils.KwhToWh(r.EnergyOut[types.TariffOne]),
		TotalConsumptionNightWh: esmutils.KwhToWh(r.EnergyIn[types.TariffTwo]),
		TotalProductionNightWh:  esmutils.KwhToWh(r.EnergyOut[types.TariffTwo]),
	}

	var gas *MeterDbTotalGasReading
	if dev, ok := r.Gas(); ok && dev.HasCounter {
		gts := dev.Timestamp
		if gts == 0 {
			gts = ts
		}
		gas = &MeterDbTotalGasReading{Timestamp: gts, TotalConsumptionDM3: esmutils.M3ToDM3(dev.Counter)}
	}
	return live, total, gas
}
