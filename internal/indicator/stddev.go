package indicator

import "math"

// StdDev is a rolling population standard deviation over period values.
type StdDev struct {
	period int
	buf    []float64
	idx    int
	count  int
	sum    float64
}

// NewStdDev creates a rolling standard deviation with the given period.
func NewStdDev(period int) *StdDev {
	return &StdDev{period: period, buf: make([]float64, period)}
}

func (s *StdDev) Name() string { return "STDDEV" }

func (s *StdDev) Update(v float64) {
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
}

// Value recomputes the deviation from the window rather than from a running
// sum of squares, which loses precision on large price levels.
func (s *StdDev) Value() float64 {
	if s.count < s.period {
		return 0
	}
	mean := s.sum / float64(s.period)
	var ss float64
	for _, v := range s.buf {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(s.period))
}

func (s *StdDev) Ready() bool { return s.count >= s.period }
