package devices

import (
	"math"
	"testing"

	"dosecore/pkg/domain"
)

func TestDefaultRegistryOrdering(t *testing.T) {
	all := Default().All()
	if len(all) == 0 {
		t.Fatalf("expected catalog devices")
	}
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.MaxVolume > cur.MaxVolume || (prev.MaxVolume == cur.MaxVolume && prev.ID > cur.ID) {
			t.Fatalf("catalog not ordered at %d: %s (%v) before %s (%v)", i, prev.ID, prev.MaxVolume, cur.ID, cur.MaxVolume)
		}
	}
	if all[0].ID != Insulin03ID {
		t.Fatalf("expected smallest device first, got %s", all[0].ID)
	}
	if Default().FinestPrecision() != 0.005 {
		t.Fatalf("unexpected finest precision %v", Default().FinestPrecision())
	}
}

func TestRegistryAllReturnsCopy(t *testing.T) {
	all := Default().All()
	all[0].MaxVolume = 99
	if d, _ := Default().Lookup(all[0].ID); d.MaxVolume == 99 {
		t.Fatalf("All must not expose internal storage")
	}
}

func TestNewRegistryRejectsInvalidCatalog(t *testing.T) {
	cases := map[string][]domain.Device{
		"empty":     nil,
		"zero max":  {{ID: "a", MaxVolume: 0, Precision: 0.01, MaxUnits: 10}},
		"zero unit": {{ID: "a", MaxVolume: 1, Precision: 0.01, MaxUnits: 0}},
		"precision": {{ID: "a", MaxVolume: 1, Precision: 2, MaxUnits: 10}},
		"duplicate": {
			{ID: "a", MaxVolume: 1, Precision: 0.01, MaxUnits: 10},
			{ID: "a", MaxVolume: 2, Precision: 0.01, MaxUnits: 10},
		},
	}
	for name, catalog := range cases {
		if _, err := NewRegistry(catalog); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLookup(t *testing.T) {
	d, ok := Default().Lookup(Insulin05ID)
	if !ok || d.MaxUnits != 50 {
		t.Fatalf("unexpected lookup: %+v %v", d, ok)
	}
	if _, ok := Default().Lookup("nope"); ok {
		t.Fatalf("expected miss")
	}
	if Default().Largest().MaxVolume != 3.0 {
		t.Fatalf("unexpected largest device %+v", Default().Largest())
	}
}

func TestUnitsRoundTripWithinOnePrecisionStep(t *testing.T) {
	for _, d := range Default().All() {
		steps := 97
		for i := 1; i <= steps; i++ {
			v := d.MaxVolume * float64(i) / float64(steps)
			back := UnitsToVolume(VolumeToUnits(v, d), d)
			if math.Abs(back-v) > d.Precision+1e-9 {
				t.Fatalf("%s: round trip of %v gave %v (precision %v)", d.ID, v, back, d.Precision)
			}
		}
	}
}

func TestMarks(t *testing.T) {
	d, _ := Default().Lookup(Insulin05ID)
	if !OnMark(0.05, d) {
		t.Fatalf("0.05 should be on a 0.01 mark")
	}
	if OnMark(0.055, d) {
		t.Fatalf("0.055 should be off mark")
	}
	if got := RoundToMark(0.056, d); math.Abs(got-0.06) > 1e-9 {
		t.Fatalf("round to mark = %v", got)
	}
	if !Measurable(0.4, d) || Measurable(0.6, d) || Measurable(0.005, d) || Measurable(0, d) {
		t.Fatalf("unexpected measurability")
	}
}
