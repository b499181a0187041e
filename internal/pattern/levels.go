package pattern

import (
	"sort"

	"chart-snapshot-analyzer/internal/model"
)

// LevelKind tells support from resistance.
type LevelKind string

const (
	LevelSupport    LevelKind = "support"
	LevelResistance LevelKind = "resistance"
)

// Level is a horizontal price zone touched by several swing points.
type Level struct {
	Kind      LevelKind `json:"kind"`
	Price     float64   `json:"price"`      // mean of the clustered swing prices
	Touches   int       `json:"touches"`    // swing points in the cluster
	Strength  float64   `json:"strength"`   // touches / series length
	LastIndex int       `json:"last_index"` // most recent touching bar
}

type swing struct {
	price float64
	index int
}

// FindLevels clusters swing highs into resistance and swing lows into
// support. A swing high is a bar whose high is the maximum of the centred
// Window around it; swing prices within Tolerance (relative to the
// cluster's lowest price) share a level. Levels with fewer than MinTouches
// touches are dropped. Output is ordered by kind, then price.
func FindLevels(series *model.Series, cfg LevelsConfig) ([]Level, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := series.Len()
	half := cfg.Window / 2
	if n < 2*half+1 {
		return nil, &model.InsufficientDataError{Component: "levels", Need: 2*half + 1, Have: n}
	}

	highs, lows := series.Highs(), series.Lows()
	var swingHighs, swingLows []swing
	for i := half; i < n-half; i++ {
		isHigh, isLow := true, true
		for j := i - half; j <= i+half; j++ {
			if highs[j] > highs[i] {
				isHigh = false
			}
			if lows[j] < lows[i] {
				isLow = false
			}
		}
		if isHigh {
			swingHighs = append(swingHighs, swing{highs[i], i})
		}
		if isLow {
			swingLows = append(swingLows, swing{lows[i], i})
		}
	}

	var out []Level
	out = append(out, clusterLevels(swingHighs, LevelResistance, cfg, n)...)
	out = append(out, clusterLevels(swingLows, LevelSupport, cfg, n)...)
	return out, nil
}

func clusterLevels(points []swing, kind LevelKind, cfg LevelsConfig, n int) []Level {
	sorted := append([]swing(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })

	var out []Level
	var cluster []swing
	flush := func() {
		if len(cluster) < cfg.MinTouches {
			return
		}
		sum, last := 0.0, 0
		for _, p := range cluster {
			sum += p.price
			if p.index > last {
				last = p.index
			}
		}
		out = append(out, Level{
			Kind:      kind,
			Price:     sum / float64(len(cluster)),
			Touches:   len(cluster),
			Strength:  float64(len(cluster)) / float64(n),
			LastIndex: last,
		})
	}
	for _, p := range sorted {
		if len(cluster) > 0 && (p.price-cluster[0].price)/cluster[0].price > cfg.Tolerance {
			flush()
			cluster = cluster[:0]
		}
		cluster = append(cluster, p)
	}
	if len(cluster) > 0 {
		flush()
	}
	return out
}
