// Package indicator provides technical indicator calculations over bar series.
//
// Streaming calculators (SMA, EMA, RSI, SMMA, StdDev) implement the Indicator
// interface and consume one value at a time. Compute and Enrich feed a whole
// model.Series through them and return index-aligned lines in which warm-up
// positions hold model.Undefined().
package indicator

// Indicator is the interface for all streaming calculators.
type Indicator interface {
	// Name returns the indicator kind (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next input value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Only meaningful when Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
