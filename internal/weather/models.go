package weather

import "encoding/json"

// Snapshot is the normalized weather view for a city. It is the value the
// coordinator caches and returns.
type Snapshot struct {
	City            string  `json:"city"`
	TemperatureNowC float64 `json:"temperature_c_now"`
	DescriptionNow  string  `json:"description"`
	SummaryToday    string  `json:"temperature_c_today"`
	SummaryTomorrow string  `json:"temperature_c_tomorrow"`
}

// RawForecast is the provider-shaped payload. The sections are kept raw so
// shape problems surface from Normalize rather than from body decoding.
type RawForecast struct {
	Current json.RawMessage `json:"current"`
	Daily   json.RawMessage `json:"daily"`
}
