package client

import (
	"testing"
	"time"
)

// TestRetryPolicyDelay verifies the exponential backoff schedule the
// policy produces for consecutive attempts, including the cap.
func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   1000 * time.Millisecond,
		MaxDelay:    30000 * time.Millisecond,
		MaxAttempts: 10,
	}

	want := []time.Duration{
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}

	for i, expected := range want {
		attempt := i + 1
		if got := p.Delay(attempt); got != expected {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

// TestRetryPolicyDelayClampsAttempt verifies that out-of-range attempt
// numbers do not produce nonsense delays.
func TestRetryPolicyDelayClampsAttempt(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		MaxAttempts: 5,
	}

	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
	if got := p.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want %v", got, time.Second)
	}

	// Very large attempt numbers must saturate at MaxDelay rather
	// than overflow.
	if got := p.Delay(500); got != 8*time.Second {
		t.Errorf("Delay(500) = %v, want %v", got, 8*time.Second)
	}
}

// TestRetryPolicyShouldRetry verifies the retry budget boundary.
func TestRetryPolicyShouldRetry(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 3,
	}

	cases := []struct {
		attempt int
		want    bool
	}{
		{0, true},  // first close, retry #1 available
		{1, true},  // second close, retry #2 available
		{2, false}, // third close exhausts the budget
		{5, false},
	}

	for _, tc := range cases {
		if got := p.ShouldRetry(tc.attempt); got != tc.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
