package node

import (
	"encoding/json"
	"sort"

	"github.com/watrall/echotrace-whispering-objects/internal/pubsub"
	"github.com/watrall/echotrace-whispering-objects/internal/topics"
)

// handleConfig applies an inbound config/<node> message, overwrite-
// merging each recognized group into the in-memory config with the
// clamping rules of spec.md §3, then always acks with the list of
// groups actually applied (empty if none were recognized). Only
// non-object payloads or invalid JSON are dropped silently without an
// ack (the hub will see a push timeout), per spec.md §4.7.
func (r *Runtime) handleConfig(msg pubsub.Message) {
	var groups map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &groups); err != nil {
		return
	}

	r.mu.Lock()
	applied := []string{}
	if raw, ok := groups["audio"]; ok {
		var patch struct {
			Volume       *float64 `json:"volume"`
			FragmentFile *string  `json:"fragment_file"`
		}
		if json.Unmarshal(raw, &patch) == nil {
			if patch.Volume != nil {
				r.cfg.Audio.Volume = clampFloat(*patch.Volume, 0.0, 1.0)
			}
			if patch.FragmentFile != nil {
				r.cfg.Audio.FragmentFile = *patch.FragmentFile
			}
			applied = append(applied, "audio")
		}
	}
	if raw, ok := groups["proximity"]; ok {
		var patch struct {
			StoryThresholdMm *int  `json:"story_threshold_mm"`
			HysteresisMm     *int  `json:"hysteresis_mm"`
			MinMm            *int  `json:"min_mm"`
			MaxMm            *int  `json:"max_mm"`
			Loop             *bool `json:"loop"`
		}
		if json.Unmarshal(raw, &patch) == nil {
			if patch.StoryThresholdMm != nil {
				r.cfg.Proximity.StoryThresholdMm = *patch.StoryThresholdMm
			}
			if patch.HysteresisMm != nil {
				r.cfg.Proximity.HysteresisMm = *patch.HysteresisMm
			}
			if patch.MinMm != nil {
				r.cfg.Proximity.MinMm = *patch.MinMm
			}
			if patch.MaxMm != nil {
				r.cfg.Proximity.MaxMm = *patch.MaxMm
			}
			if patch.Loop != nil {
				r.cfg.Proximity.Loop = *patch.Loop
			}
			applied = append(applied, "proximity")
		}
	}
	if raw, ok := groups["accessibility"]; ok {
		var patch struct {
			Captions         *bool    `json:"captions"`
			VisualPulse      *bool    `json:"visual_pulse"`
			ProximityGlow    *bool    `json:"proximity_glow"`
			MobilityBufferMs *float64 `json:"mobility_buffer_ms"`
			Repeat           *float64 `json:"repeat"`
			Pace             *float64 `json:"pace"`
			SafetyLimiter    *bool    `json:"safety_limiter"`
		}
		if json.Unmarshal(raw, &patch) == nil {
			if patch.Captions != nil {
				r.cfg.Accessibility.Captions = *patch.Captions
			}
			if patch.VisualPulse != nil {
				r.cfg.Accessibility.VisualPulse = *patch.VisualPulse
			}
			if patch.ProximityGlow != nil {
				r.cfg.Accessibility.ProximityGlow = *patch.ProximityGlow
			}
			if patch.MobilityBufferMs != nil {
				r.cfg.Accessibility.MobilityBufferMs = clampIntFloat(*patch.MobilityBufferMs, 0, 60000)
			}
			if patch.Repeat != nil {
				r.cfg.Accessibility.Repeat = clampIntFloat(*patch.Repeat, 0, 2)
			}
			if patch.Pace != nil {
				r.cfg.Accessibility.Pace = clampFloat(*patch.Pace, 0.85, 1.15)
			}
			if patch.SafetyLimiter != nil {
				r.cfg.Accessibility.SafetyLimiter = *patch.SafetyLimiter
			}
			applied = append(applied, "accessibility")
		}
	}
	nodeID := r.cfg.NodeID
	r.mu.Unlock()

	sort.Strings(applied)

	ack, err := json.Marshal(map[string]any{
		"node_id": nodeID,
		"status":  "ok",
		"applied": applied,
	})
	if err != nil {
		r.logger.WithError(err).Warn("node: failed to marshal ack")
		return
	}
	if err := r.client.Publish(topics.Ack(nodeID), ack, pubsub.WithQoS(1)); err != nil {
		r.logger.WithError(err).Warn("node: failed to publish ack")
	}
}

func clampFloat(v, minimum, maximum float64) float64 {
	if v < minimum {
		return minimum
	}
	if v > maximum {
		return maximum
	}
	return v
}

func clampIntFloat(v float64, minimum, maximum int) int {
	n := int(v)
	if n < minimum {
		return minimum
	}
	if n > maximum {
		return maximum
	}
	return n
}
