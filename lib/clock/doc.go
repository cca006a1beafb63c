// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, time.NewTimer, or time.Sleep directly. Real() provides
// the standard library behavior. Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// # Wiring Pattern
//
// Add a Clock field to configuration structs and default it to Real():
//
//	type Config struct {
//	    Clock clock.Clock
//	    // ...
//	}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start goroutines that wait on c ...
//	c.WaitForTimers(1)         // wait for the goroutine to register a timer
//	c.Advance(3 * time.Second) // fire it deterministically
//
// Cancellable delays go through Wait, which stops its timer when the
// context ends so that abandoned waits do not linger as pending timers
// on a FakeClock.
package clock
