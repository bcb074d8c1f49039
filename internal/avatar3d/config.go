package avatar3d

// BlinkConfig drives the automatic blink cycle. Times are in seconds, Speed
// in weight units per second.
type BlinkConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	FirstDelay float32 `mapstructure:"first_delay"`
	MinGap     float32 `mapstructure:"min_gap"`
	MaxGap     float32 `mapstructure:"max_gap"`
	Speed      float32 `mapstructure:"speed"`
}

type MoodConfig struct {
	Neutral     string              `mapstructure:"neutral"`
	Aliases     map[string][]string `mapstructure:"aliases"`
	AutoReturn  bool                `mapstructure:"auto_return"`
	ReturnDelay float32             `mapstructure:"return_delay"`

	// random mood cycling
	AutoChange  bool     `mapstructure:"auto_change"`
	FirstChange float32  `mapstructure:"first_change"`
	ChangeMin   float32  `mapstructure:"change_min"`
	ChangeMax   float32  `mapstructure:"change_max"`
	Pool        []string `mapstructure:"pool"`
}

type ExpressionConfig struct {
	Blink BlinkConfig `mapstructure:"blink"`
	Mood  MoodConfig  `mapstructure:"mood"`

	// SmoothingRate is the per-second fraction of the gap closed each tick.
	SmoothingRate float32 `mapstructure:"smoothing_rate"`
	SnapEpsilon   float32 `mapstructure:"snap_epsilon"`
	ZeroEpsilon   float32 `mapstructure:"zero_epsilon"`

	WinkHold        float32 `mapstructure:"wink_hold"`
	DoubleBlinkHold float32 `mapstructure:"double_blink_hold"`
}

type LipSyncConfig struct {
	Smoothing       float32 `mapstructure:"smoothing"`
	VolumeThreshold float32 `mapstructure:"volume_threshold"`
	ThresholdRatio  float32 `mapstructure:"threshold_ratio"`
	Sensitivity     float32 `mapstructure:"sensitivity"`
	MinOpen         float32 `mapstructure:"min_open"`
	MaxOpen         float32 `mapstructure:"max_open"`
	PeakThreshold   float32 `mapstructure:"peak_threshold"`
	History         int     `mapstructure:"history"`
	SilenceDecay    float32 `mapstructure:"silence_decay"`
	SwitchDecay     float32 `mapstructure:"switch_decay"`
	SnapBelow       float32 `mapstructure:"snap_below"`
	Curve           float32 `mapstructure:"curve"`
}

func DefaultExpressionConfig() ExpressionConfig {
	return ExpressionConfig{
		Blink: BlinkConfig{
			Enabled:    true,
			FirstDelay: 3,
			MinGap:     2,
			MaxGap:     5,
			Speed:      4,
		},
		Mood: MoodConfig{
			Neutral: "neutral",
			Aliases: map[string][]string{
				"neutral":   {"neutral"},
				"happy":     {"happy", "joy", "fun", "smile", "joy_01"},
				"relaxed":   {"relaxed", "joy", "fun", "content"},
				"surprised": {"surprised", "surprise", "shock", "e", "o"},
				"sad":       {"sad", "sorrow", "angry", "grief"},
			},
			AutoReturn:  true,
			ReturnDelay: 3,
			FirstChange: 5,
			ChangeMin:   5,
			ChangeMax:   10,
			Pool:        []string{"neutral", "happy", "relaxed", "surprised"},
		},
		SmoothingRate:   15,
		SnapEpsilon:     0.01,
		ZeroEpsilon:     0.001,
		WinkHold:        0.4,
		DoubleBlinkHold: 0.5,
	}
}

func DefaultLipSyncConfig() LipSyncConfig {
	return LipSyncConfig{
		Smoothing:       0.35,
		VolumeThreshold: 0.0008,
		ThresholdRatio:  0.3,
		Sensitivity:     5.5,
		MinOpen:         0.05,
		MaxOpen:         0.9,
		PeakThreshold:   0.1,
		History:         10,
		SilenceDecay:    0.2,
		SwitchDecay:     0.35,
		SnapBelow:       0.01,
		Curve:           0.75,
	}
}
