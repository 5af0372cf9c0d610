package clock

import (
	"testing"
	"time"
)

func TestToCivilAndToStoreRoundTrip(t *testing.T) {
	c, err := New("Europe/Moscow")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	naive := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	civil := c.ToCivil(naive)
	if civil.Location() != c.Location() {
		t.Fatalf("ToCivil did not anchor to civil zone")
	}

	stored := c.ToStore(civil)
	if stored.Location() != time.UTC {
		t.Fatalf("ToStore did not produce UTC, got %v", stored.Location())
	}
}

func TestRoundToMinute(t *testing.T) {
	in := time.Date(2026, 3, 1, 12, 30, 45, 123, time.UTC)
	out := RoundToMinute(in)
	if out.Second() != 0 || out.Nanosecond() != 0 {
		t.Fatalf("RoundToMinute left sub-minute precision: %v", out)
	}
}
