package types

import (
	"fmt"
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		want      float64
		tolerance float64
	}{
		{"same point", Point{Lat: 28.6139, Lng: 77.2090}, Point{Lat: 28.6139, Lng: 77.2090}, 0, 0.001},
		{"about 111m of latitude", Point{Lat: 28.0, Lng: 77.0}, Point{Lat: 28.001, Lng: 77.0}, 111.2, 0.5},
		{"Delhi to Mumbai", Point{Lat: 28.6139, Lng: 77.2090}, Point{Lat: 19.0760, Lng: 72.8777}, 1153000, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceMeters() = %f, want %f (±%f)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestPointValid(t *testing.T) {
	if !(Point{Lat: 12.97, Lng: 77.59}).Valid() {
		t.Error("expected Bengaluru to be valid")
	}
	for _, p := range []Point{{Lat: 91}, {Lat: -91}, {Lng: 181}, {Lng: -181}, {Lat: math.NaN()}} {
		if p.Valid() {
			t.Errorf("expected %+v to be invalid", p)
		}
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("booking: assign: %w", ErrWorkerUnavailable)
	if got := KindOf(wrapped); got != KindWorkerUnavailable {
		t.Errorf("KindOf(wrapped) = %s", got)
	}
	if got := KindOf(fmt.Errorf("boom")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %s", got)
	}
}

func TestUniqueIDs(t *testing.T) {
	got := UniqueIDs([]ID{"a", "b", "a", "", "c", "b"})
	want := []ID{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if len(NewID()) != 32 {
		t.Errorf("expected 32 char id")
	}
}
