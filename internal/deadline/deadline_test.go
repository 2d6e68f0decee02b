package deadline

import (
	"testing"
	"time"
)

func TestRemainingDays(t *testing.T) {
	created := time.Date(2024, 10, 24, 14, 30, 0, 0, time.UTC)
	cases := []struct {
		name string
		now  time.Time
		want int
	}{
		{"same day", created.Add(2 * time.Hour), 20},
		{"five days later", created.AddDate(0, 0, 5), 15},
		{"overdue not clamped", created.AddDate(0, 0, 25), -5},
		{"calendar days not 24h spans", time.Date(2024, 10, 25, 0, 30, 0, 0, time.UTC), 19},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RemainingDays(created, 20, tc.now); got != tc.want {
				t.Fatalf("RemainingDays = %d, want %d", got, tc.want)
			}
		})
	}
}
