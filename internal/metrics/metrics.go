package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexmotion_frames_total",
			Help: "Total number of engine ticks",
		},
	)

	FrameGlitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexmotion_frame_glitches_total",
			Help: "Ticks whose delta time was rejected or clamped",
		},
		[]string{"kind"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexmotion_tick_duration_seconds",
			Help:    "Wall time spent inside one engine tick",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		},
	)

	ClipsBound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexmotion_clips_bound_total",
			Help: "Total number of clips retargeted onto a skeleton",
		},
	)

	TracksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexmotion_tracks_dropped_total",
			Help: "Tracks discarded while retargeting",
		},
		[]string{"reason"},
	)

	KeysRepaired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexmotion_keys_repaired_total",
			Help: "Rotation keyframes rewritten by continuity repair",
		},
		[]string{"kind"},
	)

	LoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexmotion_load_failures_total",
			Help: "Play calls rejected because the clip could not be bound",
		},
	)

	ActiveActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexmotion_active_actions",
			Help: "Number of animation actions contributing to the pose",
		},
	)

	LipSyncActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexmotion_lipsync_active",
			Help: "1 while lip-sync is driving the mouth",
		},
	)

	MoodChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexmotion_mood_changes_total",
			Help: "Mood switches by resulting mood",
		},
		[]string{"mood"},
	)
)
