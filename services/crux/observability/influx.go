// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// SessionRecord is one completed session as written to the time-series
// store. Narrative and hypothesis text never leave the process; only
// aggregate shape goes to storage.
type SessionRecord struct {
	SessionID     string
	ExitReason    string
	Steps         int
	Questions     int
	Hypotheses    int
	TopConfidence float64
	Crisis        bool
	Duration      time.Duration
}

// SessionSink writes completed-session records to InfluxDB. The sink is
// optional: a nil *SessionSink drops records silently, and write failures
// are logged rather than surfaced, since losing a metrics point must never
// fail a session.
type SessionSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewSessionSink connects to InfluxDB. Returns nil (sink disabled) when url
// or token is empty.
func NewSessionSink(url, token, org, bucket string) *SessionSink {
	if url == "" || token == "" {
		return nil
	}
	client := influxdb2.NewClient(url, token)
	slog.Info("Session sink enabled",
		"influx_url", url,
		"influx_org", org,
		"influx_bucket", bucket)
	return &SessionSink{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

// RecordSession writes one session record. Failures are logged and dropped.
func (s *SessionSink) RecordSession(ctx context.Context, rec SessionRecord) {
	if s == nil {
		return
	}

	p := influxdb2.NewPoint(
		"crux_sessions",
		map[string]string{
			"exit_reason": rec.ExitReason,
		},
		map[string]interface{}{
			"session_id":     rec.SessionID,
			"steps":          rec.Steps,
			"questions":      rec.Questions,
			"hypotheses":     rec.Hypotheses,
			"top_confidence": rec.TopConfidence,
			"crisis":         rec.Crisis,
			"duration_ms":    rec.Duration.Milliseconds(),
		},
		time.Now(),
	)
	if err := s.write.WritePoint(ctx, p); err != nil {
		slog.Warn("Failed to write session record", "error", err, "session_id", rec.SessionID)
	}
}

// Close releases the underlying client. Safe on a nil sink.
func (s *SessionSink) Close() {
	if s == nil {
		return
	}
	s.client.Close()
}
