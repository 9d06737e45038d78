// Package devices holds the static injection-device catalog and the unit
// conversions between drawn volume and barrel markings.
package devices

import (
	"fmt"
	"math"
	"sort"

	"dosecore/pkg/domain"
)

// Catalog device IDs.
const (
	Insulin03ID    = "insulin-0.3"
	Insulin05ID    = "insulin-0.5"
	Insulin10ID    = "insulin-1.0"
	Tuberculin10ID = "tuberculin-1.0"
	Pen30ID        = "pen-3.0"
	Luer30ID       = "luer-3.0"
)

var defaultCatalog = []domain.Device{
	{ID: Insulin03ID, Type: domain.DeviceInsulinSyringe, Name: "0.3 mL U-100 insulin syringe", MaxVolume: 0.3, Precision: 0.005, UnitsLabel: "units", MaxUnits: 30},
	{ID: Insulin05ID, Type: domain.DeviceInsulinSyringe, Name: "0.5 mL U-100 insulin syringe", MaxVolume: 0.5, Precision: 0.01, UnitsLabel: "units", MaxUnits: 50},
	{ID: Insulin10ID, Type: domain.DeviceInsulinSyringe, Name: "1.0 mL U-100 insulin syringe", MaxVolume: 1.0, Precision: 0.02, UnitsLabel: "units", MaxUnits: 100},
	{ID: Tuberculin10ID, Type: domain.DeviceTuberculinSyringe, Name: "1.0 mL tuberculin syringe", MaxVolume: 1.0, Precision: 0.01, UnitsLabel: "mL marks", MaxUnits: 100},
	{ID: Pen30ID, Type: domain.DevicePen, Name: "3.0 mL multi-dose pen", MaxVolume: 3.0, Precision: 0.01, UnitsLabel: "clicks", MaxUnits: 300},
	{ID: Luer30ID, Type: domain.DeviceLuerSyringe, Name: "3.0 mL luer-lock syringe", MaxVolume: 3.0, Precision: 0.1, UnitsLabel: "mL marks", MaxUnits: 30},
}

// Registry is an immutable, ordered device catalog. Devices are kept sorted by
// ascending MaxVolume, ties broken by ID.
type Registry struct {
	devices []domain.Device
	byID    map[string]domain.Device
}

// NewRegistry validates and indexes the supplied catalog.
func NewRegistry(catalog []domain.Device) (*Registry, error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("device catalog is empty")
	}
	devices := append([]domain.Device(nil), catalog...)
	byID := make(map[string]domain.Device, len(devices))
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %s", d.ID)
		}
		byID[d.ID] = d
	}
	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].MaxVolume != devices[j].MaxVolume {
			return devices[i].MaxVolume < devices[j].MaxVolume
		}
		return devices[i].ID < devices[j].ID
	})
	return &Registry{devices: devices, byID: byID}, nil
}

var defaultRegistry = mustRegistry(defaultCatalog)

func mustRegistry(catalog []domain.Device) *Registry {
	r, err := NewRegistry(catalog)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the built-in catalog.
func Default() *Registry {
	return defaultRegistry
}

// All returns the catalog in ascending MaxVolume order.
func (r *Registry) All() []domain.Device {
	return append([]domain.Device(nil), r.devices...)
}

// Lookup returns the device with the given ID.
func (r *Registry) Lookup(id string) (domain.Device, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Largest returns the device with the greatest MaxVolume.
func (r *Registry) Largest() domain.Device {
	return r.devices[len(r.devices)-1]
}

// FinestPrecision returns the smallest precision across the catalog.
func (r *Registry) FinestPrecision() float64 {
	finest := math.Inf(1)
	for _, d := range r.devices {
		if d.Precision < finest {
			finest = d.Precision
		}
	}
	return finest
}
