package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether progress lines and timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where progress and timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// Logf prints one progress line when Verbose is set.
func Logf(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	fmt.Fprintf(Output, format+"\n", args...)
}

// TimingStats holds timing information for different operations
type TimingStats struct {
	TotalTime           time.Duration
	DataLoadingTime     time.Duration
	HEInitTime          time.Duration
	ModelInitTime       time.Duration
	ForwardPassTime     time.Duration
	BackwardPassTime    time.Duration
	UpdateTime          time.Duration
	CheckpointTime      time.Duration
	EncryptionTime      time.Duration
	DecryptionTime      time.Duration
	ServerLinearTime    time.Duration
	LossComputationTime time.Duration
}

// Add accumulates other into s.
func (s *TimingStats) Add(other *TimingStats) {
	s.TotalTime += other.TotalTime
	s.DataLoadingTime += other.DataLoadingTime
	s.HEInitTime += other.HEInitTime
	s.ModelInitTime += other.ModelInitTime
	s.ForwardPassTime += other.ForwardPassTime
	s.BackwardPassTime += other.BackwardPassTime
	s.UpdateTime += other.UpdateTime
	s.CheckpointTime += other.CheckpointTime
	s.EncryptionTime += other.EncryptionTime
	s.DecryptionTime += other.DecryptionTime
	s.ServerLinearTime += other.ServerLinearTime
	s.LossComputationTime += other.LossComputationTime
}

func percent(part, total time.Duration) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, steps int) {
	if !Verbose {
		return
	}
	if steps <= 0 {
		steps = 1
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Average time per step: %v\n", stats.TotalTime/time.Duration(steps))
	fmt.Fprintf(Output, "Steps completed: %d\n", steps)
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	rows := []struct {
		name string
		d    time.Duration
	}{
		{"Data loading", stats.DataLoadingTime},
		{"HE initialization", stats.HEInitTime},
		{"Model initialization", stats.ModelInitTime},
		{"Forward pass", stats.ForwardPassTime},
		{"Backward pass", stats.BackwardPassTime},
		{"Weight updates", stats.UpdateTime},
		{"Checkpoints", stats.CheckpointTime},
		{"Encryption", stats.EncryptionTime},
		{"Decryption", stats.DecryptionTime},
		{"Server linear", stats.ServerLinearTime},
		{"Loss computation", stats.LossComputationTime},
	}
	for _, r := range rows {
		if r.d == 0 {
			continue
		}
		fmt.Fprintf(Output, "  %s: %v (%.1f%%)\n", r.name, r.d, percent(r.d, stats.TotalTime))
	}
	fmt.Fprintln(Output, "\nPerformance metrics:")
	fmt.Fprintf(Output, "  Average forward pass time: %v\n", stats.ForwardPassTime/time.Duration(steps))
	fmt.Fprintf(Output, "  Average backward pass time: %v\n", stats.BackwardPassTime/time.Duration(steps))
	fmt.Fprintf(Output, "  Average step time: %.1f µs\n", DurationUS(stats.TotalTime)/float64(steps))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
