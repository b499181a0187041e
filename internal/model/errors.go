package model

import "fmt"

// ConfigError reports an invalid indicator or detector parameter. It is
// raised before any computation starts.
type ConfigError struct {
	Component string // e.g. "SMA", "breakout"
	Field     string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error in %s: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("config error in %s.%s: %s", e.Component, e.Field, e.Reason)
}

// InsufficientDataError reports that a series is too short for the warm-up
// or lookback an indicator or detector requires.
type InsufficientDataError struct {
	Component string
	Need      int
	Have      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need %d bars, have %d", e.Component, e.Need, e.Have)
}

// NumericError reports a non-finite value reaching a place that requires a
// finite number. Index is the bar position, or -1 when unknown.
type NumericError struct {
	Component string
	Index     int
	Reason    string
}

func (e *NumericError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("numeric error in %s: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("numeric error in %s at bar %d: %s", e.Component, e.Index, e.Reason)
}
