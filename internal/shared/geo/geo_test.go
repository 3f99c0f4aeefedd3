package geo

import "testing"

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceMShortHop(t *testing.T) {
	// one thousandth of a degree of latitude is ~111 m
	d := DistanceM(52.5, 13.4, 52.501, 13.4)
	if d < 105 || d > 117 {
		t.Fatalf("unexpected distance: %v", d)
	}
	if DistanceM(52.5, 13.4, 52.5, 13.4) != 0 {
		t.Fatalf("expected zero distance for identical points")
	}
}
