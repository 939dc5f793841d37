// Command node runs a single EchoTrace device: it dials the hub's
// pub/sub broker, loads its runtime configuration, and drives
// node.Runtime's ~5 Hz trigger loop until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watrall/echotrace-whispering-objects/internal/config"
	"github.com/watrall/echotrace-whispering-objects/internal/content"
	"github.com/watrall/echotrace-whispering-objects/internal/node"
	"github.com/watrall/echotrace-whispering-objects/internal/pubsub/wsbroker"
)

// tickInterval realizes spec.md §5's "single cooperative loop per
// device (~5 Hz)".
const tickInterval = 200 * time.Millisecond

func main() {
	brokerURL := flag.String("broker-url", "ws://localhost:8081/broker", "websocket URL of the hub's pub/sub broker")
	nodeID := flag.String("node-id", "", "this device's node id (required)")
	role := flag.String("role", "whisper", "node role: whisper or mystery")
	configPath := flag.String("config", "", "path to this node's YAML configuration (optional)")
	contentPacksDir := flag.String("content-packs", "content-packs", "directory containing content pack subdirectories")
	flag.Parse()

	if *nodeID == "" {
		log.Fatal("node: -node-id is required")
	}

	nodeRole := config.NodeRole(*role)
	if nodeRole != config.RoleWhisper && nodeRole != config.RoleMystery {
		log.Fatalf("node: -role must be %q or %q, got %q", config.RoleWhisper, config.RoleMystery, *role)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadNodeConfig(*configPath, *nodeID, nodeRole)
	if err != nil {
		log.Fatalf("node: configuration error: %v", err)
	}

	client := wsbroker.New(*brokerURL)
	if err := client.Connect(context.Background()); err != nil {
		log.Fatalf("node: connecting to broker %s: %v", *brokerURL, err)
	}

	resolver := content.NewResolver(*contentPacksDir, logger)
	manifest, err := resolver.LoadPack(cfg.ContentPack)
	if err != nil {
		logger.WithError(err).Warn("node: failed to load content pack; fragments will not resolve")
		manifest = nil
	}

	// No GPIO/audio driver ships with this build; a production node
	// binary supplies real Sensor/LED/Haptics/AudioPlayer implementations
	// here, selected at construction time per spec.md §9's "optional
	// hardware" design note. The no-op set lets the runtime still drive
	// its config/state handling and heartbeat loop on hardware-less
	// hosts (bench testing, CI).
	runtime := node.NewRuntime(client, manifest, cfg, node.NoopSensor{}, node.NoopLED{}, node.NoopHaptics{}, &node.NoopAudioPlayer{}, logger)
	if err := runtime.Start(); err != nil {
		log.Fatalf("node: starting runtime: %v", err)
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for range ticker.C {
		runtime.Tick()
	}
}
