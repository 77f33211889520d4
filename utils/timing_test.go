package utils

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func TestTimingStatsAdd(t *testing.T) {
	a := TimingStats{EncryptionTime: time.Second, ForwardPassTime: 2 * time.Second}
	b := TimingStats{EncryptionTime: time.Second, ServerLinearTime: 3 * time.Second}
	a.Add(&b)
	if a.EncryptionTime != 2*time.Second {
		t.Errorf("EncryptionTime = %v, want 2s", a.EncryptionTime)
	}
	if a.ServerLinearTime != 3*time.Second || a.ForwardPassTime != 2*time.Second {
		t.Errorf("Add lost fields: %+v", a)
	}
}

func withOutput(t *testing.T, verbose bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldVerbose := Output, Verbose
	Output, Verbose = &buf, verbose
	t.Cleanup(func() { Output, Verbose = oldOut, oldVerbose })
	return &buf
}

func TestPrintTimingStats(t *testing.T) {
	buf := withOutput(t, true)
	stats := TimingStats{TotalTime: 4 * time.Millisecond, ForwardPassTime: 2 * time.Millisecond}
	PrintTimingStats(&stats, 2)

	out := buf.String()
	if !strings.Contains(out, "Steps completed: 2") {
		t.Errorf("missing step count in %q", out)
	}
	if !strings.Contains(out, "Forward pass: 2ms (50.0%)") {
		t.Errorf("missing forward share in %q", out)
	}
	if strings.Contains(out, "Encryption") {
		t.Errorf("zero durations should be skipped: %q", out)
	}
	if !strings.Contains(out, "Average step time: 2000.0 µs") {
		t.Errorf("missing average step time in %q", out)
	}
}

func TestLogfRespectsVerbose(t *testing.T) {
	buf := withOutput(t, false)
	Logf("hidden %d", 1)
	PrintTimingStats(&TimingStats{TotalTime: time.Second}, 1)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}

	Verbose = true
	Logf("On batch %d", 3)
	if buf.String() != "On batch 3\n" {
		t.Errorf("Logf wrote %q", buf.String())
	}
}
