package model

import "testing"

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobProcessing, true},
		{JobPending, JobCancelled, true},
		{JobPending, JobError, true},
		{JobPending, JobCompleted, false},
		{JobProcessing, JobCompleted, true},
		{JobProcessing, JobError, true},
		{JobProcessing, JobCancelled, true},
		{JobProcessing, JobPending, false},
		{JobCompleted, JobError, false},
		{JobCancelled, JobProcessing, false},
		{JobError, JobCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobCompleted, JobError, JobCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobPending, JobProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
