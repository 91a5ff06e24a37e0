// Package metrics records the per-connection telemetry described by
// spec.md §1 ("per-connection telemetry"): broker lifecycle events and
// directional byte counters, rotated into daily CSV files. It is a very
// thin layer, the same shape as the teacher's webhook/API-call counters,
// generalized from HTTP webhook events to broker read/write/lifecycle
// events.
package metrics

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/kosmosnet/awh/internal/xdgpath"
)

const (
	// DefaultBrokerEventsFile receives one record per broker lifecycle
	// event (open, close, timeout, reconnect, proxy-established).
	DefaultBrokerEventsFile = "metrics/awh_broker_events_%s.csv"

	// DefaultBrokerBytesFile receives one record per directional
	// transfer accounting sample (spec.md §6 `bandwidth`).
	DefaultBrokerBytesFile = "metrics/awh_broker_bytes_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdgpath.NewFilePermissions
)

var (
	muEvents sync.Mutex
	muBytes  sync.Mutex
)

// IncrementBrokerEvent records a broker lifecycle event: e.g. "open",
// "close", "timeout", "reconnect", "proxy_established". schemeID and
// brokerID correlate the record with spec.md §3's Scheme/Broker ids.
func IncrementBrokerEvent(l *slog.Logger, t time.Time, schemeID, brokerID uint64, event string) {
	muEvents.Lock()
	defer muEvents.Unlock()

	record := []string{
		t.Format(time.RFC3339),
		strconv.FormatUint(schemeID, 10),
		strconv.FormatUint(brokerID, 10),
		event,
	}
	if err := appendToCSVFile(DefaultBrokerEventsFile, t, record); err != nil {
		l.Error("metrics error: failed to record broker event", slog.Any("error", err),
			slog.Uint64("scheme_id", schemeID), slog.Uint64("broker_id", brokerID), slog.String("event", event))
	}
}

// RecordBrokerBytes records n bytes transferred on brokerID in the
// given direction ("read" or "write"), for bandwidth telemetry.
func RecordBrokerBytes(t time.Time, schemeID, brokerID uint64, direction string, n int) {
	muBytes.Lock()
	defer muBytes.Unlock()

	record := []string{
		t.Format(time.RFC3339),
		strconv.FormatUint(schemeID, 10),
		strconv.FormatUint(brokerID, 10),
		direction,
		strconv.Itoa(n),
	}
	_ = appendToCSVFile(DefaultBrokerBytesFile, t, record)
}

func appendToCSVFile(filename string, t time.Time, record []string) error {
	filename = fmt.Sprintf(filename, t.Format(time.DateOnly))
	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}
