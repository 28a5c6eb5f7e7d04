package filter

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr error
	}{
		{in: "30d", want: 30 * Day},
		{in: "2w", want: 2 * Week},
		{in: "6mo", want: 6 * Month},
		{in: "1y", want: Year},
		{in: "1.5d", want: 36 * time.Hour},
		{in: "12h", want: 12 * time.Hour},
		{in: " 90m ", want: 90 * time.Minute},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "", wantErr: ErrInvalidDuration},
		{in: "-1d", wantErr: ErrNegativeDuration},
		{in: "soon", wantErr: ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseDuration(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
