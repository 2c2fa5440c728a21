// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package cep

import (
	"fmt"
	"strconv"
	"time"
)

// Event is an immutable record produced by a poll or a synthetic feed.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	SourceID  string                 `json:"source_id"`
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

// EventFromRow builds an Event from a database row. The source id comes
// from a station_id column, then source_id, then "unknown". The
// timestamp comes from a measured_at column when present and parseable,
// else now.
func EventFromRow(row map[string]interface{}, eventType string, now time.Time) Event {
	ts := now
	if raw, ok := row["measured_at"]; ok {
		if parsed, ok := parseTimestamp(raw); ok {
			ts = parsed
		}
	}
	return Event{
		Timestamp: ts,
		SourceID:  sourceID(row),
		EventType: eventType,
		Data:      row,
	}
}

func sourceID(row map[string]interface{}) string {
	for _, key := range []string{"station_id", "source_id"} {
		if v, ok := row[key]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
	}
	return "unknown"
}

func parseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// fieldValue extracts the watched field from the event's data and
// coerces it to float64. The second return is false when the field is
// absent or not numeric.
func fieldValue(e Event, field string) (float64, bool) {
	raw, ok := e.Data[field]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
