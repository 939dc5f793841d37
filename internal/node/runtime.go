package node

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watrall/echotrace-whispering-objects/internal/config"
	"github.com/watrall/echotrace-whispering-objects/internal/content"
	"github.com/watrall/echotrace-whispering-objects/internal/pubsub"
	"github.com/watrall/echotrace-whispering-objects/internal/topics"
)

// Timing constants fixed by spec.md §4.7.
const (
	HeartbeatInterval  = 15 * time.Second
	RetriggerCooldown  = 5 * time.Second
	StoryReset         = 8 * time.Second
)

// Runtime is the per-device trigger state machine plus its wiring to the
// pub/sub client and hardware capability surfaces.
type Runtime struct {
	client  pubsub.Client
	manifest *content.Manifest
	logger  *logrus.Logger

	mu     sync.Mutex
	cfg    config.NodeConfig
	sensor Sensor
	led    LED
	haptic Haptics
	audio  AudioPlayer

	now func() time.Time

	lastHeartbeatTs time.Time
	cooldownUntil   time.Time
	pendingStoryAt  *time.Time
	storyActive     bool
	storyResetTime  time.Time
	mysteryPlayed   bool
}

// NewRuntime creates a Runtime for cfg, wired to client for trigger/ack
// publication and manifest for fragment resolution.
func NewRuntime(client pubsub.Client, manifest *content.Manifest, cfg config.NodeConfig, sensor Sensor, led LED, haptic Haptics, audio AudioPlayer, logger *logrus.Logger) *Runtime {
	if logger == nil {
		logger = logrus.New()
	}
	if led == nil {
		led = NoopLED{}
	}
	if haptic == nil {
		haptic = NoopHaptics{}
	}
	if audio == nil {
		audio = &NoopAudioPlayer{}
	}
	return &Runtime{
		client:   client,
		manifest: manifest,
		logger:   logger,
		cfg:      cfg,
		sensor:   sensor,
		led:      led,
		haptic:   haptic,
		audio:    audio,
		now:      time.Now,
	}
}

// Start subscribes to this node's config topic, and to state/hub when
// the node's role is mystery.
func (r *Runtime) Start() error {
	if err := r.client.Subscribe(topics.Config(r.cfg.NodeID), r.handleConfig); err != nil {
		return fmt.Errorf("node: subscribing to config: %w", err)
	}
	if r.cfg.Role == config.RoleMystery {
		if err := r.client.Subscribe(topics.HubState, r.handleHubState); err != nil {
			return fmt.Errorf("node: subscribing to state/hub: %w", err)
		}
	}
	return nil
}

// Tick evaluates one iteration of the whisper trigger state machine
// against a fresh sensor reading and the current time from r.now, per
// spec.md §4.7.
// Mystery nodes do not process proximity; they only react to state/hub.
func (r *Runtime) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if r.cfg.Role == config.RoleMystery {
		r.maybeHeartbeatLocked(now)
		return
	}

	d, ok := r.sensor.ReadDistanceMm()
	startThreshold := r.cfg.Proximity.StoryThresholdMm - r.cfg.Proximity.HysteresisMm

	switch {
	case !ok:
		r.pendingStoryAt = nil
		if !r.storyActive {
			r.led.Off()
		}

	case d <= startThreshold:
		switch {
		case r.storyActive || now.Before(r.cooldownUntil):
			// ignore
		case r.cfg.Accessibility.MobilityBufferMs > 0:
			if r.pendingStoryAt == nil {
				at := now.Add(time.Duration(r.cfg.Accessibility.MobilityBufferMs) * time.Millisecond)
				r.pendingStoryAt = &at
			}
			// else: already buffering towards a pending start; step 5 fires it.
		default:
			r.startStoryLocked(now, false, false)
		}

	default: // d > startThreshold
		r.pendingStoryAt = nil
		if r.cfg.Accessibility.ProximityGlow {
			r.led.Glow(1 - clamp01(float64(d-r.cfg.Proximity.MinMm)/float64(r.cfg.Proximity.MaxMm-r.cfg.Proximity.MinMm)))
		} else if !r.storyActive {
			r.led.Off()
		}
	}

	if r.pendingStoryAt != nil && !now.Before(*r.pendingStoryAt) {
		r.startStoryLocked(now, false, false)
		r.pendingStoryAt = nil
	}

	if r.storyActive && !now.Before(r.storyResetTime) {
		r.storyActive = false
		if !r.cfg.Accessibility.ProximityGlow {
			r.led.Off()
		}
	}

	r.maybeHeartbeatLocked(now)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// startStoryLocked starts playback; caller holds r.mu.
func (r *Runtime) startStoryLocked(now time.Time, force, mystery bool) {
	if !force && (now.Before(r.cooldownUntil) || r.storyActive) {
		return
	}

	if r.manifest != nil {
		if path, ok := r.manifest.GetFragment(r.cfg.NodeID, r.cfg.Language); ok {
			r.audio.Load(path)
		} else {
			r.logger.WithField("node", r.cfg.NodeID).Warn("node: no fragment resolved; start-story ignored")
			return
		}
	}

	safetyLimit := 1.0
	if r.cfg.Accessibility.SafetyLimiter {
		safetyLimit = 0.75
	}
	volume := r.cfg.Audio.Volume
	if volume > safetyLimit {
		volume = safetyLimit
	}
	r.audio.SetVolume(volume)

	repeat := r.cfg.Accessibility.Repeat
	loops := repeat
	if repeat == 0 && r.cfg.Proximity.Loop {
		loops = -1
	}
	r.audio.Play(loops, r.cfg.Accessibility.Pace)

	r.storyActive = true
	r.cooldownUntil = now.Add(RetriggerCooldown)
	r.storyResetTime = now.Add(StoryReset)

	switch {
	case mystery:
		r.led.Blink(0.2, 0.2)
	case r.cfg.Accessibility.VisualPulse:
		r.led.Blink(0.4, 0.4)
	default:
		r.led.Glow(1.0)
	}
	r.haptic.Pulse(180)

	role := string(r.cfg.Role)
	payload, _ := json.Marshal(map[string]any{
		"node_id": r.cfg.NodeID,
		"role":    role,
		"ts":      float64(now.UnixNano()) / float64(time.Second),
	})
	if err := r.client.Publish(topics.Trigger(r.cfg.NodeID), payload, pubsub.WithQoS(1)); err != nil {
		r.logger.WithError(err).Warn("node: failed to publish trigger")
	}
}

func (r *Runtime) maybeHeartbeatLocked(now time.Time) {
	if !r.lastHeartbeatTs.IsZero() && now.Sub(r.lastHeartbeatTs) < HeartbeatInterval {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"node_id": r.cfg.NodeID,
		"role":    string(r.cfg.Role),
		"ts":      float64(now.UnixNano()) / float64(time.Second),
	})
	if err := r.client.Publish(topics.Health(r.cfg.NodeID), payload); err != nil {
		r.logger.WithError(err).Warn("node: failed to publish heartbeat")
		return
	}
	r.lastHeartbeatTs = now
}

func (r *Runtime) handleHubState(msg pubsub.Message) {
	var state struct {
		Unlocked bool `json:"unlocked"`
	}
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !state.Unlocked {
		r.mysteryPlayed = false
		return
	}
	if r.mysteryPlayed {
		return
	}
	r.mysteryPlayed = true
	r.startStoryLocked(r.now(), true, true)
}
