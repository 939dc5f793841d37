// Command hub runs the EchoTrace hub process: the embedded reference
// pub/sub broker, the coordinator that subscribes to it, and the
// operator HTTP surface, wired together the way cmd/server/main.go wires
// sessions.Manager and ws.Router — constructed once here, passed by
// value/pointer to the pieces that need them, never as package globals.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/watrall/echotrace-whispering-objects/internal/accessibility"
	"github.com/watrall/echotrace-whispering-objects/internal/config"
	"github.com/watrall/echotrace-whispering-objects/internal/content"
	"github.com/watrall/echotrace-whispering-objects/internal/eventlog"
	"github.com/watrall/echotrace-whispering-objects/internal/httpapi"
	"github.com/watrall/echotrace-whispering-objects/internal/hub"
	"github.com/watrall/echotrace-whispering-objects/internal/pubsub/wsbroker"
)

func main() {
	configPath := flag.String("config", "hub_config.yaml", "path to the hub configuration file")
	accessibilityPath := flag.String("accessibility", "accessibility_profiles.yaml", "path to the accessibility profiles file")
	contentPacksDir := flag.String("content-packs", "content-packs", "directory containing content pack subdirectories")
	brokerPath := flag.String("broker-path", "/broker", "HTTP path the embedded pub/sub broker is mounted under")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadHubConfig(*configPath)
	if err != nil {
		log.Fatalf("hub: configuration error: %v", err)
	}

	brokerServer := wsbroker.NewServer()
	brokerMux := http.NewServeMux()
	brokerMux.Handle(*brokerPath, brokerServer)
	brokerAddr := cfg.BrokerHost + ":" + portString(cfg.BrokerPort)
	go func() {
		logger.WithField("component", "hub").Infof("pub/sub broker listening on %s%s", brokerAddr, *brokerPath)
		if err := http.ListenAndServe(brokerAddr, brokerMux); err != nil {
			logger.WithField("component", "hub").WithError(err).Fatal("broker listener stopped")
		}
	}()

	client := wsbroker.New("ws://" + brokerAddr + *brokerPath)
	if err := client.Connect(context.Background()); err != nil {
		log.Fatalf("hub: connecting to embedded broker: %v", err)
	}

	eventLog, err := eventlog.New(cfg.LogsDir)
	if err != nil {
		log.Fatalf("hub: %v", err)
	}

	coordinator := hub.New(client, eventLog, cfg.Narrative.RequiredFragmentsToUnlock, logger)
	if err := coordinator.Start(); err != nil {
		log.Fatalf("hub: starting coordinator: %v", err)
	}

	accessibilityStore, err := accessibility.Load(*accessibilityPath)
	if err != nil {
		log.Fatalf("hub: loading accessibility profiles: %v", err)
	}

	resolver := content.NewResolver(*contentPacksDir, logger)

	auth := httpapi.NewBasicAuth(cfg.Security)
	server := httpapi.NewServer(coordinator, accessibilityStore, resolver, cfg.DefaultLanguage, auth, logger)

	dashboardAddr := cfg.DashboardHost + ":" + portString(cfg.DashboardPort)
	httpServer := &http.Server{Addr: dashboardAddr, Handler: server.Handler()}

	go func() {
		logger.WithField("component", "hub").Infof("operator HTTP surface listening on %s", dashboardAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("component", "hub").WithError(err).Fatal("HTTP listener stopped")
		}
	}()

	waitForShutdown()

	logger.WithField("component", "hub").Info("shutting down")
	_ = httpServer.Shutdown(context.Background())
	if err := coordinator.Stop(); err != nil {
		logger.WithField("component", "hub").WithError(err).Warn("error closing event log")
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func portString(port int) string {
	return strconv.Itoa(port)
}
