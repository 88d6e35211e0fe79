package quota

import (
	"context"
	"sync/atomic"
)

// Meter sums the units charged on behalf of one unit of work, such as a
// single channel fetch, while the Tracker keeps the process-wide total.
type Meter struct {
	units atomic.Int64
}

// Units returns the total recorded so far.
func (m *Meter) Units() int {
	if m == nil {
		return 0
	}
	return int(m.units.Load())
}

type meterKey struct{}

// WithMeter returns a context carrying m.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// Charge adds units to the Meter carried by ctx, if any.
func Charge(ctx context.Context, units int) {
	if m, ok := ctx.Value(meterKey{}).(*Meter); ok && m != nil {
		m.units.Add(int64(units))
	}
}
