package indicators

import (
	"math"
	"testing"
)

func TestSlope(t *testing.T) {
	if s := Slope([]float64{1, 2, 3, 4, 5}); math.Abs(s-1) > 1e-9 {
		t.Fatalf("expected slope 1, got %f", s)
	}
	if s := Slope([]float64{10, 8, 6, 4}); math.Abs(s+2) > 1e-9 {
		t.Fatalf("expected slope -2, got %f", s)
	}
	if s := Slope([]float64{5, 5, 5, 5}); s != 0 {
		t.Fatalf("expected zero slope for constant series, got %f", s)
	}
	if s := Slope([]float64{1}); s != 0 {
		t.Fatalf("expected zero slope for single value, got %f", s)
	}
}

func TestStdDev(t *testing.T) {
	if sd := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}); math.Abs(sd-2.138) > 0.001 {
		t.Fatalf("expected stddev near 2.138, got %f", sd)
	}
	if sd := StdDev([]float64{3, 3, 3}); sd != 0 {
		t.Fatalf("expected zero stddev for constant series, got %f", sd)
	}
	if sd := StdDev([]float64{1}); sd != 0 {
		t.Fatalf("expected zero stddev for single value, got %f", sd)
	}
}

func TestLast(t *testing.T) {
	if v := Last([]float64{1, 2, 3}); v != 3 {
		t.Fatalf("expected 3, got %f", v)
	}
	if v := Last(nil); v != 0 {
		t.Fatalf("expected 0 for empty series, got %f", v)
	}
}

func TestVWAP(t *testing.T) {
	lib := NewTALib()

	highs := []float64{11, 12, 13}
	lows := []float64{9, 10, 11}
	closes := []float64{10, 11, 12}
	volumes := []float64{100, 200, 300}

	vwap := lib.VWAP(highs, lows, closes, volumes)
	if len(vwap) != 3 {
		t.Fatalf("expected series of 3, got %d", len(vwap))
	}

	// Первая точка равна типичной цене первого бара
	if math.Abs(vwap[0]-10) > 1e-9 {
		t.Fatalf("expected first vwap 10, got %f", vwap[0])
	}

	// (10*100 + 11*200 + 12*300) / 600
	want := (10.0*100 + 11.0*200 + 12.0*300) / 600
	if math.Abs(vwap[2]-want) > 1e-9 {
		t.Fatalf("expected vwap %f, got %f", want, vwap[2])
	}
}

func TestVWAPZeroVolume(t *testing.T) {
	lib := NewTALib()

	vwap := lib.VWAP([]float64{11}, []float64{9}, []float64{10}, []float64{0})
	if math.Abs(vwap[0]-10) > 1e-9 {
		t.Fatalf("expected typical price fallback 10, got %f", vwap[0])
	}
}

func TestVWMA(t *testing.T) {
	lib := NewTALib()

	closes := []float64{10, 20, 30, 40}
	volumes := []float64{4, 2, 1, 1}

	vwma := lib.VWMA(closes, volumes, 2)
	if len(vwma) != 4 {
		t.Fatalf("expected series of 4, got %d", len(vwma))
	}

	// До накопления периода серия заполнена нулями
	if vwma[0] != 0 {
		t.Fatalf("expected zero before warmup, got %f", vwma[0])
	}

	// (10*4 + 20*2) / 6
	if want := (10.0*4 + 20.0*2) / 6; math.Abs(vwma[1]-want) > 1e-9 {
		t.Fatalf("expected vwma %f, got %f", want, vwma[1])
	}

	// Окно сдвигается: (30*1 + 40*1) / 2
	if math.Abs(vwma[3]-35) > 1e-9 {
		t.Fatalf("expected vwma 35, got %f", vwma[3])
	}
}

func TestVWMAWeightsByVolume(t *testing.T) {
	lib := NewTALib()

	// Весь объем сосредоточен на дешевом баре, среднее тянется к нему
	closes := []float64{10, 100}
	volumes := []float64{9, 1}

	vwma := lib.VWMA(closes, volumes, 2)
	if math.Abs(vwma[1]-19) > 1e-9 {
		t.Fatalf("expected vwma 19, got %f", vwma[1])
	}
}

func TestVWMADegenerate(t *testing.T) {
	lib := NewTALib()

	if vwma := lib.VWMA([]float64{10}, []float64{100}, 5); vwma[0] != 0 {
		t.Fatalf("expected zeros for short series, got %f", vwma[0])
	}
	if vwma := lib.VWMA([]float64{10, 20}, []float64{0, 0}, 2); vwma[1] != 0 {
		t.Fatalf("expected zero for zero-volume window, got %f", vwma[1])
	}
}

func TestEMAConverges(t *testing.T) {
	lib := NewTALib()

	values := make([]float64, 100)
	for i := range values {
		values[i] = 50
	}
	ema := lib.EMA(values, 20)
	if math.Abs(Last(ema)-50) > 1e-9 {
		t.Fatalf("EMA of constant series must converge to the constant, got %f", Last(ema))
	}
}
