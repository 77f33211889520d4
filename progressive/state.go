package progressive

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"prognet/checkpoint"
	"prognet/utils"
)

// Phase is the position of a Fit call in its task sequence.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseTrainTask
	PhaseCheckpoint
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseTrainTask:
		return "train-task"
	case PhaseCheckpoint:
		return "checkpoint"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// TrainingState is scoped to one Fit call.
type TrainingState struct {
	RunID       uuid.UUID
	Graph       *Graph
	Session     *Session
	Saver       *checkpoint.Saver
	Checkpoints int
	Phase       Phase
	Task        int
	Stats       utils.TimingStats
}

func newTrainingState(g *Graph, sess *Session, dir string, maxToKeep int) (*TrainingState, error) {
	runID := uuid.New()
	saver, err := checkpoint.NewSaver(dir, maxToKeep, runID.String())
	if err != nil {
		return nil, err
	}
	return &TrainingState{RunID: runID, Graph: g, Session: sess, Saver: saver, Phase: PhaseInit}, nil
}

// checkpoint saves the full parameter state under tag.
func (s *TrainingState) checkpoint(tag int) (string, error) {
	s.Phase = PhaseCheckpoint
	start := time.Now()
	path, err := s.Saver.Save(tag, s.Graph.Snapshot(tag, s.RunID.String()))
	if err != nil {
		return "", err
	}
	s.Stats.CheckpointTime += time.Since(start)
	s.Checkpoints++
	utils.Logf("Saved checkpoint %d to %s", tag, path)
	return path, nil
}
