package types

import "encoding/json"

func (r *MeterReading) ToJsonBytes() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

// MeterReadingFromJsonBytes returns nil when data is not a reading.
func MeterReadingFromJsonBytes(data []byte) *MeterReading {
	var reading MeterReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil
	}
	return &reading
}
