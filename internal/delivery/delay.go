package delivery

import "time"

// Delay is the adaptive pause between network deliveries. It only ever grows:
// each test case may raise it by one step, up to Max, when automatic
// increase is enabled.
type Delay struct {
	current time.Duration
	step    time.Duration
	max     time.Duration
	auto    bool

	// armed permits one increase for the current test case.
	armed bool
}

// NewDelay returns a delay starting at initial. A max below initial is
// raised to initial so the invariant current <= max holds from the start.
func NewDelay(initial, step, max time.Duration, auto bool) *Delay {
	if initial < 0 {
		initial = 0
	}
	if max < initial {
		max = initial
	}
	return &Delay{current: initial, step: step, max: max, auto: auto}
}

// Arm permits one increase. It is called once per test case.
func (d *Delay) Arm() {
	d.armed = true
}

// Increase raises the delay by one step, capped at the maximum. It reports
// whether the delay changed; at most one increase happens between two calls
// to Arm.
func (d *Delay) Increase() bool {
	if !d.auto || !d.armed {
		return false
	}
	d.armed = false

	next := d.current + d.step
	if next > d.max {
		next = d.max
	}
	if next == d.current {
		return false
	}
	d.current = next
	return true
}

// Current returns the pause applied after each delivery.
func (d *Delay) Current() time.Duration {
	return d.current
}

// Seconds converts a float number of seconds, as given on the command line,
// into a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond)
}
