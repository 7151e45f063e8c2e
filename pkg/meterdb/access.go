package meterdb

import "database/sql"

func insertLivePowerReading(tx *sql.Tx, reading *MeterDbLivePowerReading) error {
	_, err := tx.Exec(
		"INSERT INTO live_power_readings (timestamp, watt, reading_type) "+
			"VALUES (?, ?, ?)",
		reading.Timestamp,
		reading.Watt,
		reading.ReadingType,
	)
	return err
}

func insertTotalPowerReading(tx *sql.Tx, reading *MeterDbTotalPowerReading) error {
	_, err := tx.Exec(
		"INSERT INTO total_power_readings "+
			"(timestamp, consumption_day_wh, production_day_wh, consumption_night_wh, production_night_wh) "+
			"VALUES (?, ?, ?, ?, ?)",
		reading.Timestamp,
		reading.TotalConsumptionDayWh,
		reading.TotalProductionDayWh,
		reading.TotalConsumptionNightWh,
		reading.TotalProductionNightWh,
	)
	return err
}

func insertTotalGasReading(tx *sql.Tx, reading *MeterDbTotalGasReading) error {
	_, err := tx.Exec(
		"INSERT INTO total_gas_readings (timestamp, consumption_dm3) VALUES (?, ?)",
		reading.Timestamp,
		reading.TotalConsumptionDM3,
	)
	return err
}
