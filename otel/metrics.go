// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/mqttfactory/client"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mqtt-client"

var _ client.Observer = (*Metrics)(nil)

// Metrics holds OpenTelemetry metric instruments for the MQTT client.
// It is installed as the factory Observer.
type Metrics struct {
	meter metric.Meter

	// Counters
	sessionsBound      metric.Int64Counter
	reconnectsSched    metric.Int64Counter
	connectionFailures metric.Int64Counter

	// Gauges
	pending metric.Int64Gauge
	qos1    metric.Int64Gauge
	release metric.Int64Gauge
	receive metric.Int64Gauge

	// Histograms
	reconnectDelay metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{
		meter: mp.Meter(meterName),
	}

	var err error

	m.sessionsBound, err = m.meter.Int64Counter(
		"mqtt.client.sessions.bound",
		metric.WithDescription("Sessions bound to a connection attempt"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessionsBound counter: %w", err)
	}

	m.reconnectsSched, err = m.meter.Int64Counter(
		"mqtt.client.reconnects.scheduled",
		metric.WithDescription("Reconnection attempts scheduled"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconnectsScheduled counter: %w", err)
	}

	m.connectionFailures, err = m.meter.Int64Counter(
		"mqtt.client.connection.failures",
		metric.WithDescription("Connections lost or failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionFailures counter: %w", err)
	}

	m.pending, err = m.meter.Int64Gauge(
		"mqtt.client.session.pending",
		metric.WithDescription("Messages waiting to be sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending gauge: %w", err)
	}

	m.qos1, err = m.meter.Int64Gauge(
		"mqtt.client.session.qos1",
		metric.WithDescription("Published messages awaiting PUBACK or PUBREC"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create qos1 gauge: %w", err)
	}

	m.release, err = m.meter.Int64Gauge(
		"mqtt.client.session.release",
		metric.WithDescription("Packet IDs awaiting PUBCOMP"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create release gauge: %w", err)
	}

	m.receive, err = m.meter.Int64Gauge(
		"mqtt.client.session.receive",
		metric.WithDescription("Inbound QoS 2 messages awaiting PUBREL"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create receive gauge: %w", err)
	}

	m.reconnectDelay, err = m.meter.Float64Histogram(
		"mqtt.client.reconnect.delay",
		metric.WithDescription("Delay before a reconnection attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconnectDelay histogram: %w", err)
	}

	return m, nil
}

// SessionBound records the bind and the session sizes at that moment.
func (m *Metrics) SessionBound(addr client.Address, created bool, st client.SessionStats) {
	ctx := context.Background()
	remote := metric.WithAttributes(attribute.String("remote.address", addr.String()))

	m.sessionsBound.Add(ctx, 1, metric.WithAttributes(
		attribute.String("remote.address", addr.String()),
		attribute.Bool("created", created),
	))
	m.pending.Record(ctx, int64(st.Pending), remote)
	m.qos1.Record(ctx, int64(st.QoS1), remote)
	m.release.Record(ctx, int64(st.Release), remote)
	m.receive.Record(ctx, int64(st.Receive), remote)
}

// ReconnectScheduled records a scheduled retry.
func (m *Metrics) ReconnectScheduled(_ int, delay time.Duration) {
	ctx := context.Background()
	m.reconnectsSched.Add(ctx, 1)
	m.reconnectDelay.Record(ctx, delay.Seconds())
}

// ConnectionFailed records a lost or failed connection.
func (m *Metrics) ConnectionFailed(error) {
	m.connectionFailures.Add(context.Background(), 1)
}
