// Package clock is the single source of "now" for the keyserver core.
//
// Every scheduling decision in this codebase is made in the configured
// civil zone (Moscow wall-clock by default); every value that touches the
// store is compared and persisted in UTC. Mixing naive civil values with
// aware UTC values is the single most common bug class in this domain, so
// the scheduling code (notification planner, key sweeper, payment
// pipeline) takes its "now" from here. The remaining direct time.Now()
// calls (HTTP request timing, panel expiry stamps in epoch milliseconds)
// do not depend on the civil zone.
package clock

import "time"

// Clock produces "now" in both the civil zone and UTC, and converts
// between the two at the store boundary.
type Clock struct {
	civil *time.Location
}

// New creates a Clock fixed to the named civil zone (e.g. "Europe/Moscow").
func New(civilZone string) (*Clock, error) {
	loc, err := time.LoadLocation(civilZone)
	if err != nil {
		return nil, err
	}
	return &Clock{civil: loc}, nil
}

// NowCivil returns the current instant expressed in the civil zone.
func (c *Clock) NowCivil() time.Time {
	return time.Now().In(c.civil)
}

// NowUTC returns the current instant expressed in UTC.
func (c *Clock) NowUTC() time.Time {
	return time.Now().UTC()
}

// Location returns the configured civil zone.
func (c *Clock) Location() *time.Location {
	return c.civil
}

// ToStore converts any aware time to UTC, the representation the store
// persists and compares against.
func (c *Clock) ToStore(t time.Time) time.Time {
	return t.UTC()
}

// ToCivil upgrades a naive value (e.g. a time.Time built from discrete
// year/month/day/hour/minute fields with no meaningful location) into one
// anchored in the civil zone. If t already carries a location other than
// UTC-by-construction, it is reinterpreted in the civil zone — callers must
// only pass genuinely naive values.
func (c *Clock) ToCivil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), c.civil)
}

// RoundToMinute truncates t down to the start of its minute, in whatever
// location t already carries. Used to build minute-granularity dedup keys.
func RoundToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
