package config

// SafetyConfig configures the ranging interlock.
type SafetyConfig struct {
	// MinClearanceM is the forward clearance in meters below which the
	// gate vetoes every physical_motion command, owner included.
	MinClearanceM float64 `yaml:"min_clearance_m"`

	// ProximityAlertM is the clearance below which the buzzer sounds.
	ProximityAlertM float64 `yaml:"proximity_alert_m"`
}
