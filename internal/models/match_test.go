package models

import "testing"

func TestIsValidMatchTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{MatchStatusPending, MatchStatusAccepted, true},
		{MatchStatusAccepted, MatchStatusPickupConfirmed, true},
		{MatchStatusPickupConfirmed, MatchStatusCompleted, true},

		// Side branches
		{MatchStatusPending, MatchStatusDeclined, true},
		{MatchStatusPending, MatchStatusCancelled, true},
		{MatchStatusAccepted, MatchStatusCancelled, true},

		// No state skipping
		{MatchStatusPending, MatchStatusPickupConfirmed, false},
		{MatchStatusPending, MatchStatusCompleted, false},
		{MatchStatusAccepted, MatchStatusCompleted, false},

		// No leaving terminal states, no cancellation after pickup
		{MatchStatusPickupConfirmed, MatchStatusCancelled, false},
		{MatchStatusPickupConfirmed, MatchStatusDeclined, false},
		{MatchStatusCompleted, MatchStatusCancelled, false},
		{MatchStatusDeclined, MatchStatusAccepted, false},
		{MatchStatusCancelled, MatchStatusPending, false},
		{MatchStatusCompleted, MatchStatusPickupConfirmed, false},

		// No backwards moves
		{MatchStatusAccepted, MatchStatusPending, false},
		{MatchStatusPickupConfirmed, MatchStatusAccepted, false},

		{"nonexistent", MatchStatusAccepted, false},
		{MatchStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidMatchTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidMatchTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalMatchStatuses(t *testing.T) {
	terminal := []string{MatchStatusCompleted, MatchStatusDeclined, MatchStatusCancelled}
	for _, status := range terminal {
		if !IsTerminalMatchStatus(status) {
			t.Errorf("status %q should be terminal", status)
		}
		if transitions := ValidMatchTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}

	for _, status := range []string{MatchStatusPending, MatchStatusAccepted, MatchStatusPickupConfirmed} {
		if IsTerminalMatchStatus(status) {
			t.Errorf("status %q should not be terminal", status)
		}
	}
}

func TestAllMatchStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		MatchStatusPending, MatchStatusAccepted, MatchStatusPickupConfirmed,
		MatchStatusCompleted, MatchStatusDeclined, MatchStatusCancelled,
	}
	for _, status := range allStatuses {
		if _, ok := ValidMatchTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidMatchTransitions map", status)
		}
	}
}

func TestSpaceFits(t *testing.T) {
	tests := []struct {
		available string
		required  string
		fits      bool
		exact     bool
	}{
		{SpaceSmall, SpaceSmall, true, true},
		{SpaceMedium, SpaceSmall, true, false},
		{SpaceLarge, SpaceSmall, true, false},
		{SpaceMedium, SpaceMedium, true, true},
		{SpaceLarge, SpaceMedium, true, false},
		{SpaceLarge, SpaceLarge, true, true},
		{SpaceSmall, SpaceMedium, false, false},
		{SpaceSmall, SpaceLarge, false, false},
		{SpaceMedium, SpaceLarge, false, false},
		{"", SpaceSmall, false, false},
		{SpaceLarge, "", false, false},
	}

	for _, tt := range tests {
		if got := SpaceFits(tt.available, tt.required); got != tt.fits {
			t.Errorf("SpaceFits(%q, %q) = %v, want %v", tt.available, tt.required, got, tt.fits)
		}
		if got := SpaceExactFit(tt.available, tt.required); got != tt.exact {
			t.Errorf("SpaceExactFit(%q, %q) = %v, want %v", tt.available, tt.required, got, tt.exact)
		}
	}
}
