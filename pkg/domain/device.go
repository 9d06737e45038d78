package domain

import "fmt"

// DeviceType classifies injection devices.
type DeviceType string

// Supported device types.
const (
	DeviceInsulinSyringe    DeviceType = "insulin_syringe"
	DeviceTuberculinSyringe DeviceType = "tuberculin_syringe"
	DeviceLuerSyringe       DeviceType = "luer_syringe"
	DevicePen               DeviceType = "pen"
)

// Device describes a syringe or pen. Precision is the smallest volume (mL)
// between two graduation marks.
type Device struct {
	ID         string     `json:"id"`
	Type       DeviceType `json:"type"`
	Name       string     `json:"name"`
	MaxVolume  float64    `json:"max_volume_ml"`
	Precision  float64    `json:"precision_ml"`
	UnitsLabel string     `json:"units_label"`
	MaxUnits   int        `json:"max_units"`
}

// Validate checks the catalog invariants for a device.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device id required")
	}
	if d.MaxVolume <= 0 {
		return fmt.Errorf("device %s: max volume must be positive", d.ID)
	}
	if d.MaxUnits <= 0 {
		return fmt.Errorf("device %s: max units must be positive", d.ID)
	}
	if d.Precision <= 0 || d.Precision > d.MaxVolume {
		return fmt.Errorf("device %s: precision must be in (0, max volume]", d.ID)
	}
	return nil
}

// VolumePerUnit is the volume represented by one printed unit on the barrel.
func (d Device) VolumePerUnit() float64 {
	return d.MaxVolume / float64(d.MaxUnits)
}
