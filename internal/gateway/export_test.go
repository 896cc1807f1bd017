package gateway

import "time"

// SetTimingForTest shrinks the watchdog intervals so idle behaviour can be
// exercised without wall-clock waits. The returned func restores the defaults.
func SetTimingForTest(check, grace, farewell time.Duration) func() {
	prevCheck, prevGrace, prevFarewell := idleCheckInterval, idleGrace, farewellGrace
	idleCheckInterval, idleGrace, farewellGrace = check, grace, farewell
	return func() {
		idleCheckInterval, idleGrace, farewellGrace = prevCheck, prevGrace, prevFarewell
	}
}
