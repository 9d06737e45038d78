package supply

import (
	"errors"
	"math"
	"testing"

	"dosecore/pkg/domain"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func weeklyInput() domain.SupplyInput {
	return domain.SupplyInput{
		VialSizeMg:             10,
		ReconstitutionVolumeMl: 2,
		TargetDoseMg:           0.25,
		Frequency:              domain.Weekly(),
	}
}

func TestPlanReorderPointAndCost(t *testing.T) {
	in := weeklyInput()
	in.CostPerVial = floatPtr(50)
	out, err := Default().Plan(in)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.DaysPerVial != 280 || out.MonthlyVials != 1 {
		t.Fatalf("unexpected projection: %+v", out)
	}
	if out.LeadTimeDays != 7 {
		t.Fatalf("expected default lead time 7, got %d", out.LeadTimeDays)
	}
	if out.ReorderPoint != 7+42 {
		t.Fatalf("reorder point = %d", out.ReorderPoint)
	}
	if out.ReorderAmount != out.MonthlyVials {
		t.Fatalf("reorder amount %d != monthly vials %d", out.ReorderAmount, out.MonthlyVials)
	}
	if out.MonthlyCost == nil || *out.MonthlyCost != 50 || out.AnnualCost == nil || *out.AnnualCost != 600 {
		t.Fatalf("unexpected costs: %v %v", out.MonthlyCost, out.AnnualCost)
	}
	if out.Alert != nil {
		t.Fatalf("no alert expected without vials on hand")
	}
}

func TestPlanExplicitLeadTimeAndNoCost(t *testing.T) {
	in := weeklyInput()
	in.LeadTimeDays = intPtr(0)
	out, err := Default().Plan(in)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.ReorderPoint != 42 {
		t.Fatalf("reorder point = %d", out.ReorderPoint)
	}
	if out.MonthlyCost != nil || out.AnnualCost != nil {
		t.Fatalf("costs must be absent without cost per vial")
	}
}

func TestPlanBufferPercent(t *testing.T) {
	in := domain.SupplyInput{VialSizeMg: 10, ReconstitutionVolumeMl: 2, TargetDoseMg: 1, Frequency: domain.Daily()}
	out, err := Default().Plan(in)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.MonthlyVials != 3 {
		t.Fatalf("monthly vials = %d", out.MonthlyVials)
	}
	in.BufferPercent = 20
	out, err = Default().Plan(in)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.MonthlyVials != 4 || out.ReorderAmount != 4 {
		t.Fatalf("buffered monthly vials = %d", out.MonthlyVials)
	}
}

func TestPlanAlertFromVialsOnHand(t *testing.T) {
	in := weeklyInput()
	in.VialsOnHand = floatPtr(0.1)
	out, err := Default().Plan(in)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.DaysRemaining == nil || math.Abs(*out.DaysRemaining-28) > 1e-9 {
		t.Fatalf("days remaining = %v", out.DaysRemaining)
	}
	if out.Alert == nil || !out.Alert.ShouldReorder || out.Alert.Urgency != domain.UrgencyLow {
		t.Fatalf("unexpected alert: %+v", out.Alert)
	}
}

func TestPlanRejectsInvalidSupplyInput(t *testing.T) {
	mutators := map[string]func(*domain.SupplyInput){
		"negative buffer":   func(in *domain.SupplyInput) { in.BufferPercent = -1 },
		"buffer above 100":  func(in *domain.SupplyInput) { in.BufferPercent = 101 },
		"negative cost":     func(in *domain.SupplyInput) { in.CostPerVial = floatPtr(-5) },
		"negative lead":     func(in *domain.SupplyInput) { in.LeadTimeDays = intPtr(-1) },
		"negative on hand":  func(in *domain.SupplyInput) { in.VialsOnHand = floatPtr(-1) },
		"dose exceeds vial": func(in *domain.SupplyInput) { in.TargetDoseMg = 20 },
		"zero recon":        func(in *domain.SupplyInput) { in.ReconstitutionVolumeMl = 0 },
	}
	for name, mutate := range mutators {
		t.Run(name, func(t *testing.T) {
			in := weeklyInput()
			mutate(&in)
			if _, err := Default().Plan(in); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestUrgencyLadder(t *testing.T) {
	cases := []struct {
		days float64
		want domain.Urgency
	}{
		{0, domain.UrgencyCritical},
		{3, domain.UrgencyCritical},
		{3.5, domain.UrgencyHigh},
		{7, domain.UrgencyHigh},
		{7.1, domain.UrgencyMedium},
		{14, domain.UrgencyMedium},
		{15, domain.UrgencyLow},
		{120, domain.UrgencyLow},
	}
	for _, tc := range cases {
		if got := Urgency(tc.days); got != tc.want {
			t.Fatalf("urgency(%v) = %s want %s", tc.days, got, tc.want)
		}
	}
}

func TestCustomThresholds(t *testing.T) {
	p := NewPlanner(nil, Thresholds{DefaultLeadTimeDays: 10, ReorderCushion: 0.5, CriticalDays: 1, HighDays: 2, MediumDays: 3})
	if p.Urgency(2.5) != domain.UrgencyMedium {
		t.Fatalf("custom ladder not applied")
	}
	if p.ReorderPoint(10, 10) != 15 {
		t.Fatalf("custom cushion not applied: %d", p.ReorderPoint(10, 10))
	}
	zero := NewPlanner(nil, Thresholds{})
	if zero.Thresholds() != DefaultThresholds() {
		t.Fatalf("zero thresholds must fall back to defaults: %+v", zero.Thresholds())
	}
}
