package safety

import (
	"fmt"

	"dosecore/internal/devices"
	"dosecore/internal/dosing"
	"dosecore/pkg/domain"
)

// NewDeviceLimitRule flags draws larger than the assigned device holds.
// Peptides with an unknown device or an unusable dose are left to the missing
// data rule. A usable dose without a supply plan yields an info issue noting
// that device capacity was not evaluated.
func NewDeviceLimitRule() Rule {
	return deviceLimitRule{}
}

type deviceLimitRule struct{}

func (deviceLimitRule) Name() string { return "device_limit" }

func (deviceLimitRule) Evaluate(ev Evaluation) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	for _, p := range ev.Protocol.Peptides {
		if p.Dose == nil || p.Dose.DeviceID == "" {
			continue
		}
		device, ok := ev.Devices.Lookup(p.Dose.DeviceID)
		if !ok {
			continue
		}
		if !domain.PositiveFinite(p.Dose.PerInjectionMg) {
			continue
		}
		if _, ok := dosing.DrawVolume(p.Dose.PerInjectionMg, p.Supply.VialSizeMg, p.Supply.ReconstitutionVolumeMl); !ok {
			issues = append(issues, domain.ValidationIssue{
				ID:       issueID(string(domain.IssueDeviceLimit), p.ID, "unchecked"),
				Type:     domain.IssueDeviceLimit,
				Severity: domain.SeverityInfo,
				Message:  fmt.Sprintf("%s has no usable vial size and reconstitution volume, so %s capacity was not evaluated", label(p), device.Name),
				Meta:     map[string]string{"peptide_id": p.PeptideID, "entry_id": p.ID, "device_id": device.ID},
			})
			continue
		}
		for _, d := range phaseDoses(p) {
			draw, ok := dosing.DrawVolume(d.mg, p.Supply.VialSizeMg, p.Supply.ReconstitutionVolumeMl)
			if !ok || draw <= device.MaxVolume*(1+devices.MarkTolerance) {
				continue
			}
			parts := []string{string(domain.IssueDeviceLimit), p.ID}
			meta := map[string]string{
				"peptide_id":     p.PeptideID,
				"entry_id":       p.ID,
				"device_id":      device.ID,
				"draw_volume_ml": formatMg(draw),
				"max_volume_ml":  formatMg(device.MaxVolume),
			}
			if d.phase != "" {
				parts = append(parts, d.phase)
				meta["phase_id"] = d.phase
			}
			issues = append(issues, domain.ValidationIssue{
				ID:       issueID(parts...),
				Type:     domain.IssueDeviceLimit,
				Severity: domain.SeverityError,
				Message:  fmt.Sprintf("%s needs %s mL per injection but the %s holds %s mL", label(p), formatMg(draw), device.Name, formatMg(device.MaxVolume)),
				Meta:     meta,
			})
		}
	}
	return issues
}

type phaseDose struct {
	phase string
	mg    float64
}

// phaseDoses lists the base per-injection dose followed by each phase override.
func phaseDoses(p domain.ProtocolPeptide) []phaseDose {
	doses := []phaseDose{{mg: p.Dose.PerInjectionMg}}
	for _, phase := range p.Phases {
		if phase.DoseOverrideMg != nil {
			doses = append(doses, phaseDose{phase: phase.PhaseID, mg: *phase.DoseOverrideMg})
		}
	}
	return doses
}
