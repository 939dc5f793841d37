package node

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/watrall/echotrace-whispering-objects/internal/config"
	"github.com/watrall/echotrace-whispering-objects/internal/pubsub"
	"github.com/watrall/echotrace-whispering-objects/internal/topics"
)

func newTestRuntime(t *testing.T, cfg config.NodeConfig, sensor Sensor) (*Runtime, *pubsub.Broker, pubsub.Client) {
	t.Helper()
	broker := pubsub.NewBroker()
	client := broker.NewClient()
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	r := NewRuntime(client, nil, cfg, sensor, NoopLED{}, NoopHaptics{}, &NoopAudioPlayer{}, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	return r, broker, client
}

// Scenario 5 from spec.md §8.
func TestWhisperTriggerWithMobilityBuffer(t *testing.T) {
	cfg := config.DefaultNodeConfig("object1", config.RoleWhisper)
	cfg.Proximity.StoryThresholdMm = 700
	cfg.Proximity.HysteresisMm = 50
	cfg.Accessibility.MobilityBufferMs = 300

	sensor := &FixedSensor{Readings: []Reading{
		{DistanceMm: 900, Ok: true},
		{DistanceMm: 640, Ok: true},
		{DistanceMm: 640, Ok: true},
		{DistanceMm: 640, Ok: true},
	}}

	r, broker, _ := newTestRuntime(t, cfg, sensor)
	triggerCount := 0
	observer := broker.NewClient()
	observer.Connect(context.Background())
	observer.Subscribe(topics.Trigger("object1"), func(msg pubsub.Message) { triggerCount++ })

	base := time.Unix(1700000000, 0).UTC()
	ticks := []time.Duration{0, 1 * time.Second, 1200 * time.Millisecond}
	for _, d := range ticks {
		at := base.Add(d)
		r.now = func() time.Time { return at }
		r.Tick()
		time.Sleep(5 * time.Millisecond)
	}

	if triggerCount != 0 {
		t.Fatalf("expected no trigger before buffer elapses (t<1.3s), got %d", triggerCount)
	}

	// Advance to t=1.3s exactly: buffer elapsed, story should start.
	r.now = func() time.Time { return base.Add(1300 * time.Millisecond) }
	r.Tick()
	time.Sleep(5 * time.Millisecond)
	if triggerCount != 1 {
		t.Fatalf("expected exactly one trigger at t=1.3s, got %d", triggerCount)
	}

	// No second trigger before cooldown elapses at t=6.3s (RETRIGGER_COOLDOWN=5s).
	r.now = func() time.Time { return base.Add(6200 * time.Millisecond) }
	r.Tick()
	time.Sleep(5 * time.Millisecond)
	if triggerCount != 1 {
		t.Fatalf("expected still exactly one trigger before t=6.3s, got %d", triggerCount)
	}
}

func TestSensorErrorClearsPending(t *testing.T) {
	cfg := config.DefaultNodeConfig("object1", config.RoleWhisper)
	sensor := &FixedSensor{Readings: []Reading{{Ok: false}}}
	r, _, _ := newTestRuntime(t, cfg, sensor)

	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	r.Tick()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingStoryAt != nil {
		t.Error("expected pending_story_at cleared on sensor error")
	}
}

func TestStartStoryClampsVolumeToSafetyLimit(t *testing.T) {
	cfg := config.DefaultNodeConfig("object1", config.RoleWhisper)
	cfg.Audio.Volume = 0.95
	cfg.Accessibility.SafetyLimiter = true

	audio := &NoopAudioPlayer{}
	broker := pubsub.NewBroker()
	client := broker.NewClient()
	client.Connect(context.Background())
	r := NewRuntime(client, nil, cfg, &FixedSensor{}, NoopLED{}, NoopHaptics{}, audio, nil)

	r.startStoryLocked(time.Now(), true, false)

	if audio.Volume != 0.75 {
		t.Errorf("volume = %v, want clamped to safety limit 0.75", audio.Volume)
	}
}

func TestStartStoryNoSafetyLimitAllowsFullVolume(t *testing.T) {
	cfg := config.DefaultNodeConfig("object1", config.RoleWhisper)
	cfg.Audio.Volume = 0.95
	cfg.Accessibility.SafetyLimiter = false

	audio := &NoopAudioPlayer{}
	broker := pubsub.NewBroker()
	client := broker.NewClient()
	client.Connect(context.Background())
	r := NewRuntime(client, nil, cfg, &FixedSensor{}, NoopLED{}, NoopHaptics{}, audio, nil)

	r.startStoryLocked(time.Now(), true, false)

	if audio.Volume != 0.95 {
		t.Errorf("volume = %v, want 0.95 with safety_limiter disabled", audio.Volume)
	}
}

func TestMysteryNodeUnlocksExactlyOnceAndResets(t *testing.T) {
	cfg := config.DefaultNodeConfig("mystery", config.RoleMystery)
	audio := &NoopAudioPlayer{}
	broker := pubsub.NewBroker()
	hubClient := broker.NewClient()
	hubClient.Connect(context.Background())

	client := broker.NewClient()
	client.Connect(context.Background())
	r := NewRuntime(client, nil, cfg, &FixedSensor{}, NoopLED{}, NoopHaptics{}, audio, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	publishState := func(unlocked bool) {
		payload, _ := json.Marshal(map[string]any{"unlocked": unlocked, "triggered": []string{}})
		hubClient.Publish(topics.HubState, payload, pubsub.WithQoS(1), pubsub.WithRetain())
	}

	publishState(true)
	time.Sleep(20 * time.Millisecond)
	if !audio.Playing {
		t.Fatal("expected mystery node to start story on unlock")
	}

	audio.Playing = false
	publishState(true)
	time.Sleep(20 * time.Millisecond)
	if audio.Playing {
		t.Error("expected mystery node not to replay while already latched")
	}

	publishState(false)
	publishState(true)
	time.Sleep(20 * time.Millisecond)
	if !audio.Playing {
		t.Error("expected mystery node to replay after an explicit unlocked:false reset")
	}
}

func TestHandleConfigAppliesGroupsAndAcks(t *testing.T) {
	cfg := config.DefaultNodeConfig("object1", config.RoleWhisper)
	broker := pubsub.NewBroker()
	hubClient := broker.NewClient()
	hubClient.Connect(context.Background())

	client := broker.NewClient()
	client.Connect(context.Background())
	r := NewRuntime(client, nil, cfg, &FixedSensor{}, NoopLED{}, NoopHaptics{}, &NoopAudioPlayer{}, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	var ackPayload map[string]any
	acked := make(chan struct{})
	hubClient.Subscribe(topics.Ack("object1"), func(msg pubsub.Message) {
		json.Unmarshal(msg.Payload, &ackPayload)
		close(acked)
	})

	configMsg, _ := json.Marshal(map[string]any{
		"audio": map[string]any{"volume": 1.5},
	})
	hubClient.Publish(topics.Config("object1"), configMsg, pubsub.WithQoS(1))

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}

	r.mu.Lock()
	volume := r.cfg.Audio.Volume
	r.mu.Unlock()
	if volume != 1.0 {
		t.Errorf("volume = %v, want clamped to 1.0", volume)
	}

	applied, _ := ackPayload["applied"].([]any)
	if len(applied) != 1 || applied[0] != "audio" {
		t.Errorf("applied = %v, want [audio]", ackPayload["applied"])
	}
	if ackPayload["status"] != "ok" {
		t.Errorf("status = %v, want ok", ackPayload["status"])
	}
}

func TestHandleConfigDropsInvalidJSON(t *testing.T) {
	cfg := config.DefaultNodeConfig("object1", config.RoleWhisper)
	broker := pubsub.NewBroker()
	hubClient := broker.NewClient()
	hubClient.Connect(context.Background())
	client := broker.NewClient()
	client.Connect(context.Background())
	r := NewRuntime(client, nil, cfg, &FixedSensor{}, NoopLED{}, NoopHaptics{}, &NoopAudioPlayer{}, nil)
	r.Start()

	acked := false
	hubClient.Subscribe(topics.Ack("object1"), func(msg pubsub.Message) { acked = true })
	hubClient.Publish(topics.Config("object1"), []byte("not json"), pubsub.WithQoS(1))

	time.Sleep(20 * time.Millisecond)
	if acked {
		t.Error("expected invalid JSON config message to be dropped without acking")
	}
}

func TestHeartbeatPublishedAtInterval(t *testing.T) {
	cfg := config.DefaultNodeConfig("object1", config.RoleWhisper)
	sensor := &FixedSensor{Readings: []Reading{{DistanceMm: 900, Ok: true}}}
	r, broker, _ := newTestRuntime(t, cfg, sensor)

	heartbeats := 0
	observer := broker.NewClient()
	observer.Connect(context.Background())
	observer.Subscribe(topics.Health("object1"), func(msg pubsub.Message) { heartbeats++ })

	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }
	r.Tick()
	time.Sleep(10 * time.Millisecond)
	if heartbeats != 1 {
		t.Fatalf("expected heartbeat on first tick, got %d", heartbeats)
	}

	r.now = func() time.Time { return base.Add(5 * time.Second) }
	r.Tick()
	time.Sleep(10 * time.Millisecond)
	if heartbeats != 1 {
		t.Fatalf("expected no heartbeat before interval elapses, got %d", heartbeats)
	}

	r.now = func() time.Time { return base.Add(16 * time.Second) }
	r.Tick()
	time.Sleep(10 * time.Millisecond)
	if heartbeats != 2 {
		t.Fatalf("expected second heartbeat after interval elapses, got %d", heartbeats)
	}
}
