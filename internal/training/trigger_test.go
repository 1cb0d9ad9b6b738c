package training

import "testing"

func TestShouldTrigger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		pendingCount int
		inProgress   bool
		threshold    int
		want         bool
	}{
		{"below threshold", 4, false, 5, false},
		{"at threshold", 5, false, 5, true},
		{"above threshold", 7, false, 5, true},
		{"in progress never triggers", 7, true, 5, false},
		{"zero pending", 0, false, 5, false},
		{"custom threshold", 3, false, 3, true},
		{"zero threshold falls back to default", 5, false, 0, true},
		{"zero threshold below default", 4, false, 0, false},
		{"negative threshold falls back to default", 5, false, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ShouldTrigger(tt.pendingCount, tt.inProgress, tt.threshold)
			if got != tt.want {
				t.Errorf("ShouldTrigger(%d, %t, %d) = %t, want %t",
					tt.pendingCount, tt.inProgress, tt.threshold, got, tt.want)
			}
		})
	}
}
