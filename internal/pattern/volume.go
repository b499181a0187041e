package pattern

import (
	"time"

	"chart-snapshot-analyzer/internal/indicator"
	"chart-snapshot-analyzer/internal/model"
)

// VolumeAnomaly is a bar whose volume stands out from the rolling window
// ending at it.
type VolumeAnomaly struct {
	Time      time.Time `json:"ts"`
	Index     int       `json:"index"`
	Volume    float64   `json:"volume"`
	AvgVolume float64   `json:"avg_volume"`
	Deviation float64   `json:"deviation"` // (volume - avg) / σ
}

// FindVolumeAnomalies flags every bar whose volume exceeds the mean of the
// last Window volumes (the bar included) by more than Deviations standard
// deviations. A window with zero deviation flags nothing. Output is in bar
// order.
func FindVolumeAnomalies(series *model.Series, cfg VolumeConfig) ([]VolumeAnomaly, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := series.Len()
	if n < cfg.Window {
		return nil, &model.InsufficientDataError{Component: "volume", Need: cfg.Window, Have: n}
	}

	avg := indicator.NewSMA(cfg.Window)
	dev := indicator.NewStdDev(cfg.Window)
	var out []VolumeAnomaly
	for i, v := range series.Volumes() {
		avg.Update(v)
		dev.Update(v)
		if !avg.Ready() {
			continue
		}
		mean, sd := avg.Value(), dev.Value()
		if sd <= 0 || v <= mean+cfg.Deviations*sd {
			continue
		}
		out = append(out, VolumeAnomaly{
			Time:      series.Bar(i).Time,
			Index:     i,
			Volume:    v,
			AvgVolume: mean,
			Deviation: (v - mean) / sd,
		})
	}
	return out, nil
}
