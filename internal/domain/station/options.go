package station

// Config tunes how quality drifts while a station works.
type Config struct {
	// AttendedGain is the quality gained per second while cooking attended.
	AttendedGain float64
	// UnattendedLoss is the quality lost per second while cooking unattended.
	UnattendedLoss float64
	// CookingFloor bounds unattended loss during cooking.
	CookingFloor float64
	// CompletedDecay is the quality lost per second while a finished dish waits.
	CompletedDecay float64
	// CompletedFloor bounds the waiting decay.
	CompletedFloor float64
	// PresentationBonus is added to the quality of a plated dish.
	PresentationBonus float64
	// MixMultiplier scales the average quality of a mixing tray.
	MixMultiplier float64
}

// DefaultConfig returns the stock drift rates.
func DefaultConfig() Config {
	return Config{
		AttendedGain:   0.05,
		UnattendedLoss: 0.02,
		CookingFloor:   0.5,
		CompletedDecay: 0.1,
		CompletedFloor: 0.1,

		PresentationBonus: 0.15,
		MixMultiplier:     1.2,
	}
}

// Option configures a Station.
type Option func(*Station)

// WithConfig replaces the drift rates.
func WithConfig(cfg Config) Option {
	return func(s *Station) { s.cfg = cfg }
}
