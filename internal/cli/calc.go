package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"dosecore/pkg/domain"
)

func addDoseFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("vial", 0, "Vial size in mg (required)")
	cmd.Flags().Float64("water", 0, "Reconstitution volume in mL (required)")
	cmd.Flags().Float64("dose", 0, "Target dose per injection in mg (required)")
	cmd.Flags().String("frequency", string(domain.PatternWeekly), "Preset schedule: daily, every_other_day, three_times_weekly, twice_weekly, weekly, every_two_weeks, monthly")
	cmd.Flags().String("days", "", "Comma-separated weekdays for a custom schedule (overrides --frequency)")
	_ = cmd.MarkFlagRequired("vial")
	_ = cmd.MarkFlagRequired("water")
	_ = cmd.MarkFlagRequired("dose")
}

func doseFlags(cmd *cobra.Command) (vial, water, dose float64, freq domain.FrequencySchedule, err error) {
	vial, _ = cmd.Flags().GetFloat64("vial")
	water, _ = cmd.Flags().GetFloat64("water")
	dose, _ = cmd.Flags().GetFloat64("dose")
	pattern, _ := cmd.Flags().GetString("frequency")
	days, _ := cmd.Flags().GetString("days")
	freq, err = parseFrequency(pattern, days)
	return vial, water, dose, freq, err
}

func newCalcCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Calculate the syringe draw for a dose",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vial, water, dose, freq, err := doseFlags(cmd)
			if err != nil {
				return err
			}
			buffer, _ := cmd.Flags().GetBool("buffer")
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			out, err := svc.Calculate(cmd.Context(), domain.CalculatorInput{
				VialSizeMg:             vial,
				ReconstitutionVolumeMl: water,
				TargetDoseMg:           dose,
				Frequency:              freq,
				ConsiderBuffer:         buffer,
			})
			if err != nil {
				return err
			}
			return a.writeJSON(out)
		},
	}
	addDoseFlags(cmd)
	cmd.Flags().Bool("buffer", false, "Add a safety margin to monthly vial counts")
	return cmd
}

func newSupplyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supply",
		Short: "Project vial usage, cost and reorder timing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vial, water, dose, freq, err := doseFlags(cmd)
			if err != nil {
				return err
			}
			in := domain.SupplyInput{
				VialSizeMg:             vial,
				ReconstitutionVolumeMl: water,
				TargetDoseMg:           dose,
				Frequency:              freq,
				BufferPercent:          a.cfg.Dosing.BufferPercent,
			}
			if cmd.Flags().Changed("buffer-percent") {
				in.BufferPercent, _ = cmd.Flags().GetFloat64("buffer-percent")
			}
			if cmd.Flags().Changed("cost") {
				v, _ := cmd.Flags().GetFloat64("cost")
				in.CostPerVial = &v
			}
			if cmd.Flags().Changed("lead-time") {
				v, _ := cmd.Flags().GetInt("lead-time")
				in.LeadTimeDays = &v
			}
			if cmd.Flags().Changed("on-hand") {
				v, _ := cmd.Flags().GetFloat64("on-hand")
				in.VialsOnHand = &v
			}
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			out, err := svc.PlanSupply(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.writeJSON(out)
		},
	}
	addDoseFlags(cmd)
	cmd.Flags().Float64("buffer-percent", 0, "Safety margin percent (default from config)")
	cmd.Flags().Float64("cost", 0, "Cost per vial")
	cmd.Flags().Int("lead-time", 0, "Days between ordering and delivery")
	cmd.Flags().Float64("on-hand", 0, "Vials currently on hand")
	return cmd
}

func newUrgencyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urgency",
		Short: "Classify how soon a reorder is needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, _ := cmd.Flags().GetFloat64("days-remaining")
			point, _ := cmd.Flags().GetInt("reorder-point")
			if days < 0 {
				return errors.New("days-remaining must not be negative")
			}
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			planner := svc.Planner()
			if !cmd.Flags().Changed("reorder-point") {
				point = planner.Thresholds().DefaultLeadTimeDays
			}
			return a.writeJSON(planner.Alert(days, point))
		},
	}
	cmd.Flags().Float64("days-remaining", 0, "Days of supply left (required)")
	cmd.Flags().Int("reorder-point", 0, "Days of supply at which to reorder (default: lead time)")
	_ = cmd.MarkFlagRequired("days-remaining")
	return cmd
}

type deviceView struct {
	domain.Device
	Largest bool `json:"largest,omitempty"`
}

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the syringe and pen catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			reg := svc.Devices()
			largest := reg.Largest().ID
			all := reg.All()
			out := make([]deviceView, 0, len(all))
			for _, d := range all {
				out = append(out, deviceView{Device: d, Largest: d.ID == largest})
			}
			return a.writeJSON(out)
		},
	}
}
