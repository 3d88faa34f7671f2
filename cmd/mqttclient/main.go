// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/mqttfactory/client"
	"github.com/absmach/mqttfactory/config"
	"github.com/absmach/mqttfactory/connector"
	"github.com/absmach/mqttfactory/internal/logging"
	"github.com/absmach/mqttfactory/otel"
	"go.opentelemetry.io/otel/metric/noop"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file")
	topic := flag.String("publish", "", "Topic to publish to after connecting")
	payload := flag.String("message", "", "Payload for -publish")
	qos := flag.Uint("qos", 1, "QoS for -publish")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, flush := logging.New(os.Stdout, cfg.Log)
	defer flush()
	slog.SetDefault(logger)

	slog.Info("Configuration loaded",
		"role", cfg.Client.Role,
		"broker", cfg.Broker.Address,
		"metrics_enabled", cfg.Metrics.Enabled,
		"log_level", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observer client.Observer
	if cfg.Metrics.Enabled {
		mp, shutdown, err := otel.InitProvider(ctx, cfg.Metrics)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Error("Failed to shutdown OpenTelemetry", "error", err)
			}
		}()
		metrics, err := otel.NewMetrics(mp)
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		observer = metrics
		slog.Info("OpenTelemetry metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		metrics, err := otel.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		observer = metrics
	}

	opts, err := cfg.ClientOptions()
	if err != nil {
		slog.Error("Invalid client options", "error", err)
		os.Exit(1)
	}
	opts.SetLogger(logger).
		SetObserver(observer).
		SetOnMessage(func(m *client.Message) {
			slog.Info("Message received",
				"topic", m.Topic,
				"qos", m.QoS,
				"size", len(m.Payload))
		})

	factory, err := client.NewFactory(opts)
	if err != nil {
		slog.Error("Failed to create connection factory", "error", err)
		os.Exit(1)
	}

	addr, err := cfg.BrokerAddress()
	if err != nil {
		slog.Error("Invalid broker address", "error", err)
		os.Exit(1)
	}

	conn, err := connector.New(factory, connector.Config{
		Address:        addr,
		ClientID:       cfg.Client.ClientID,
		Username:       cfg.Client.Username,
		Password:       cfg.Client.Password,
		KeepAlive:      cfg.Client.KeepAlive,
		ConnectTimeout: cfg.Client.ConnectTimeout,
		Topics:         cfg.Client.Topics,
		SubscribeQoS:   cfg.Client.SubscribeQoS,
		PublishRate:    cfg.Client.PublishRate,
		PublishBurst:   cfg.Client.PublishBurst,
		Logger:         logger,
	})
	if err != nil {
		slog.Error("Failed to create connector", "error", err)
		os.Exit(1)
	}

	slog.Info("Connecting", "broker", addr.String(), "client_id", conn.ClientID())
	conn.Connect()

	if *topic != "" {
		msg := client.NewMessage(*topic, []byte(*payload), byte(*qos), false)
		if err := conn.Publish(ctx, msg); err != nil {
			slog.Error("Publish failed", "topic", *topic, "error", err)
		}
	}

	<-ctx.Done()
	slog.Info("Received shutdown signal")

	if err := conn.Close(); err != nil {
		slog.Error("Error closing connector", "error", err)
	}

	st := factory.Sessions()
	slog.Info("Client stopped", "sessions", st.Len())
}
