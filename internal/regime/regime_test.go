package regime

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeIndexSource struct {
	closes []float64
	err    error
}

func (f *fakeIndexSource) IndexCloses(ctx context.Context, indexCode string, count int) ([]float64, error) {
	return f.closes, f.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   State
	}{
		{
			name:   "rising index is bull",
			closes: []float64{2600, 2610, 2620, 2640, 2660},
			want:   Bull,
		},
		{
			name:   "falling index is bear",
			closes: []float64{2700, 2680, 2660, 2650, 2640},
			want:   Bear,
		},
		{
			name:   "flat index is bear",
			closes: []float64{2650, 2600, 2700, 2620, 2650},
			want:   Bear,
		},
		{
			name:   "longer history uses the five-session window",
			closes: []float64{3000, 2900, 2600, 2610, 2620, 2640, 2660},
			want:   Bull,
		},
		{
			name:   "short history defaults to bull",
			closes: []float64{2600, 2700},
			want:   Bull,
		},
		{
			name:   "empty history defaults to bull",
			closes: nil,
			want:   Bull,
		},
		{
			name:   "zero base close defaults to bull",
			closes: []float64{0, 2610, 2620, 2640, 2660},
			want:   Bull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.closes); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.closes, got, tt.want)
			}
		})
	}
}

func TestDetectDefaultsToBullOnFetchFailure(t *testing.T) {
	src := &fakeIndexSource{err: errors.New("gateway timeout")}
	if got := Detect(context.Background(), src, "001", zerolog.Nop()); got != Bull {
		t.Errorf("Detect with failing source = %v, want Bull", got)
	}
}

func TestDetectClassifiesFetchedSeries(t *testing.T) {
	src := &fakeIndexSource{closes: []float64{2700, 2680, 2660, 2650, 2640}}
	if got := Detect(context.Background(), src, "001", zerolog.Nop()); got != Bear {
		t.Errorf("Detect falling series = %v, want Bear", got)
	}
}
