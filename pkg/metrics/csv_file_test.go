package metrics_test

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/kosmosnet/awh/pkg/metrics"
)

func TestIncrementBrokerEvent(t *testing.T) {
	t.Chdir(t.TempDir())
	now := time.Now().UTC()

	if err := os.Mkdir("metrics", 0o700); err != nil {
		t.Fatal(err)
	}

	metrics.IncrementBrokerEvent(slog.Default(), now, 1, 42, "open")

	f, err := os.ReadFile(fmt.Sprintf(metrics.DefaultBrokerEventsFile, now.Format(time.DateOnly)))
	if err != nil {
		t.Fatal(err)
	}

	got := string(f)
	want := now.Format(time.RFC3339) + ",1,42,open\n"
	if got != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestRecordBrokerBytes(t *testing.T) {
	t.Chdir(t.TempDir())
	now := time.Now().UTC()

	if err := os.Mkdir("metrics", 0o700); err != nil {
		t.Fatal(err)
	}

	metrics.RecordBrokerBytes(now, 1, 42, "read", 128)
	metrics.RecordBrokerBytes(now, 1, 42, "write", 64)

	f, err := os.ReadFile(fmt.Sprintf(metrics.DefaultBrokerBytesFile, now.Format(time.DateOnly)))
	if err != nil {
		t.Fatal(err)
	}

	got := string(f)
	ts := now.Format(time.RFC3339)
	want := fmt.Sprintf("%s,1,42,read,128\n%s,1,42,write,64\n", ts, ts)
	if got != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}
