package portspec

import "fmt"

// Range is a half-open port interval [From, To).
type Range struct {
	From int
	To   int
}

// NewRange validates the bounds of a half-open range. To may be MaxPort+1 so
// that the last port can be included.
func NewRange(from, to int) (Range, error) {
	if from < 0 || from > MaxPort {
		return Range{}, fmt.Errorf("%w: lower bound %d is outside 0-%d", ErrInvalidPort, from, MaxPort)
	}
	if to < 0 || to > MaxPort+1 {
		return Range{}, fmt.Errorf("%w: upper bound %d is outside 0-%d", ErrInvalidPort, to, MaxPort+1)
	}
	if to < from {
		return Range{}, fmt.Errorf("%w: upper bound %d is below lower bound %d", ErrInvalidPort, to, from)
	}
	return Range{From: from, To: to}, nil
}

// Len returns the number of ports in the range.
func (r Range) Len() int {
	if r.To <= r.From {
		return 0
	}
	return r.To - r.From
}

// Contains reports whether port lies within the range.
func (r Range) Contains(port int) bool {
	return port >= r.From && port < r.To
}

// Ports enumerates the range in ascending order.
func (r Range) Ports() []int {
	ports := make([]int, 0, r.Len())
	for p := r.From; p < r.To; p++ {
		ports = append(ports, p)
	}
	return ports
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.From, r.To)
}
