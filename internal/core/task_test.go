package core

import "testing"

func TestExecutionStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to ExecutionStatus
		want     bool
	}{
		{ExecutionPending, ExecutionRunning, true},
		{ExecutionPending, ExecutionFailed, true},
		{ExecutionPending, ExecutionCompleted, false},
		{ExecutionRunning, ExecutionCompleted, true},
		{ExecutionRunning, ExecutionFailed, true},
		{ExecutionRunning, ExecutionPending, false},
		{ExecutionCompleted, ExecutionRunning, false},
		{ExecutionFailed, ExecutionPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	if ExecutionPending.IsTerminal() || ExecutionRunning.IsTerminal() {
		t.Fatal("pending/running must not be terminal")
	}
	if !ExecutionCompleted.IsTerminal() || !ExecutionFailed.IsTerminal() {
		t.Fatal("completed/failed must be terminal")
	}
}
