package weather

import (
	"strings"
	"time"
)

// AggregateRecords summarizes records into window statistics. Temperatures are
// normalized to °C; records without a temperature still count towards the
// totals but not the temperature figures. from and to are copied verbatim.
func AggregateRecords(records []Record, from, to time.Time) Stats {
	stats := Stats{From: from, To: to}
	if len(records) == 0 {
		return stats
	}

	var (
		sumTemp     float64
		sumHumidity float64
		sumPressure float64
		withTemp    int
	)
	cities := make(map[string]struct{})

	for _, r := range records {
		sumHumidity += float64(r.Humidity)
		sumPressure += float64(r.Pressure)
		cities[strings.ToLower(strings.TrimSpace(r.City))] = struct{}{}

		t, ok := r.TemperatureC()
		if !ok {
			continue
		}
		if withTemp == 0 || t < stats.MinTemperature {
			stats.MinTemperature = t
		}
		if withTemp == 0 || t > stats.MaxTemperature {
			stats.MaxTemperature = t
		}
		sumTemp += t
		withTemp++
	}

	n := float64(len(records))
	stats.TotalRecords = len(records)
	stats.AvgHumidity = sumHumidity / n
	stats.AvgPressure = sumPressure / n
	stats.CitiesCovered = len(cities)
	if withTemp > 0 {
		stats.AvgTemperature = sumTemp / float64(withTemp)
	}
	return stats
}
