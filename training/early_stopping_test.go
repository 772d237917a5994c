package training

import "testing"

func TestEarlyStoppingCounter(t *testing.T) {
	tests := []struct {
		name         string
		patience     int
		scores       []float64
		wantCounters []int
		wantImproved []bool
		wantBest     float64
		wantBestEp   int
		wantStopped  bool
	}{
		{
			name:         "strict improvements reset the counter",
			patience:     3,
			scores:       []float64{50, 60, 55, 61},
			wantCounters: []int{0, 0, 1, 0},
			wantImproved: []bool{true, true, false, true},
			wantBest:     61,
			wantBestEp:   4,
		},
		{
			name:         "ties are not improvements",
			patience:     3,
			scores:       []float64{70, 70, 70},
			wantCounters: []int{0, 1, 2},
			wantImproved: []bool{true, false, false},
			wantBest:     70,
			wantBestEp:   1,
		},
		{
			name:         "zero accuracy never improves on the initial best",
			patience:     2,
			scores:       []float64{0, 0},
			wantCounters: []int{1, 2},
			wantImproved: []bool{false, false},
			wantBest:     0,
			wantBestEp:   0,
			wantStopped:  true,
		},
		{
			name:         "stops when counter reaches patience",
			patience:     2,
			scores:       []float64{70, 72, 72, 71},
			wantCounters: []int{0, 0, 1, 2},
			wantImproved: []bool{true, true, false, false},
			wantBest:     72,
			wantBestEp:   2,
			wantStopped:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := NewEarlyStopping(tt.patience)
			for i, s := range tt.scores {
				improved := es.Update(i+1, s)
				if improved != tt.wantImproved[i] {
					t.Errorf("epoch %d: improved = %v, want %v", i+1, improved, tt.wantImproved[i])
				}
				if es.EpochsWithoutImprovement != tt.wantCounters[i] {
					t.Errorf("epoch %d: counter = %d, want %d", i+1, es.EpochsWithoutImprovement, tt.wantCounters[i])
				}
			}
			if es.BestScore != tt.wantBest || es.BestEpoch != tt.wantBestEp {
				t.Errorf("best = %v@%d, want %v@%d", es.BestScore, es.BestEpoch, tt.wantBest, tt.wantBestEp)
			}
			if es.ShouldStop() != tt.wantStopped {
				t.Errorf("ShouldStop = %v, want %v", es.ShouldStop(), tt.wantStopped)
			}
		})
	}
}

func TestEarlyStoppingIsSticky(t *testing.T) {
	es := NewEarlyStopping(1)
	es.Update(1, 50)
	es.Update(2, 40)
	if !es.ShouldStop() {
		t.Fatal("expected stop after one non-improving epoch")
	}
	if es.Update(3, 99) {
		t.Error("Update after stop must not report improvement")
	}
	if !es.ShouldStop() || es.BestScore != 50 {
		t.Errorf("state changed after stop: %+v", es)
	}
}

func TestEarlyStoppingBestNeverDecreases(t *testing.T) {
	es := NewEarlyStopping(100)
	best := 0.0
	for i, s := range []float64{10, 30, 20, 25, 31, 5, 31} {
		es.Update(i+1, s)
		if es.BestScore < best {
			t.Fatalf("best decreased from %v to %v", best, es.BestScore)
		}
		best = es.BestScore
	}
	if best != 31 {
		t.Errorf("best = %v, want 31", best)
	}
}
