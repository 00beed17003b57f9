package weather

import (
	"encoding/json"
	"errors"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
)

type rawCurrent struct {
	Temperature *float64 `json:"temperature"`
	Summary     *string  `json:"summary"`
}

type rawDaily struct {
	Data []struct {
		Summary *string `json:"summary"`
	} `json:"data"`
}

// Normalize maps a provider payload onto a Snapshot for city. It fails with
// an apperr.KindMalformed error when current.temperature, current.summary,
// daily.data[0].summary or daily.data[1].summary is absent or mistyped.
func Normalize(city string, raw RawForecast) (Snapshot, error) {
	var cur rawCurrent
	if err := decodeSection(raw.Current, &cur); err != nil {
		return Snapshot{}, apperr.NewMalformed("weather payload: bad current section", err)
	}
	if cur.Temperature == nil {
		return Snapshot{}, apperr.NewMalformed("weather payload: missing current.temperature", nil)
	}
	if cur.Summary == nil {
		return Snapshot{}, apperr.NewMalformed("weather payload: missing current.summary", nil)
	}

	var daily rawDaily
	if err := decodeSection(raw.Daily, &daily); err != nil {
		return Snapshot{}, apperr.NewMalformed("weather payload: bad daily section", err)
	}
	if len(daily.Data) < 2 {
		return Snapshot{}, apperr.NewMalformed("weather payload: daily.data needs today and tomorrow", nil)
	}
	today, tomorrow := daily.Data[0].Summary, daily.Data[1].Summary
	if today == nil || tomorrow == nil {
		return Snapshot{}, apperr.NewMalformed("weather payload: missing daily summary", nil)
	}

	return Snapshot{
		City:            city,
		TemperatureNowC: *cur.Temperature,
		DescriptionNow:  *cur.Summary,
		SummaryToday:    *today,
		SummaryTomorrow: *tomorrow,
	}, nil
}

func decodeSection(b json.RawMessage, v any) error {
	if len(b) == 0 {
		return errors.New("section is absent")
	}
	return json.Unmarshal(b, v)
}

// DecodeSnapshot parses a cached Snapshot. Entries without a city are
// rejected so the caller treats them as a miss.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, err
	}
	if s.City == "" {
		return Snapshot{}, errors.New("cached snapshot has no city")
	}
	return s, nil
}
