package task

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		name   string
		states []State
		want   State
	}{
		{name: "empty", states: nil, want: Success},
		{name: "all success", states: []State{Success, Success}, want: Success},
		{name: "success and skipped", states: []State{Success, Skipped}, want: Success},
		{name: "all skipped", states: []State{Skipped, Skipped}, want: Skipped},
		{name: "one failure", states: []State{Success, Failed, Success}, want: Failed},
		{name: "failure beats abort", states: []State{Aborted, Failed}, want: Failed},
		{name: "abort", states: []State{Success, Aborted}, want: Aborted},
		{name: "all pending", states: []State{Pending, Pending}, want: Pending},
		{name: "pending and done", states: []State{Pending, Success}, want: Running},
		{name: "running", states: []State{Running, Failed}, want: Running},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fold(tt.states...); got != tt.want {
				t.Errorf("Fold(%v) = %s, want %s", tt.states, got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Pending, Running, true},
		{Pending, Failed, true},
		{Pending, Success, false},
		{Running, Success, true},
		{Running, Pending, false},
		{Success, Failed, false},
		{Failed, Success, false},
		{Aborted, Running, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if got := Skipped.String(); got != "SKIPPED" {
		t.Errorf("Skipped.String() = %q, want %q", got, "SKIPPED")
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("State(42).String() = %q, want %q", got, "State(42)")
	}
}
