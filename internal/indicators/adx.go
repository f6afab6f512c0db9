package indicators

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

// atrSpec and adxSpec are hand-rolled: neither the Average True Range nor
// the Average Directional Index has a channel-based operator in
// cinar/indicator/v2, so both are computed directly with Wilder's smoothing
// in the registry's pure series+params -> columns shape.

func atrSpec() Spec {
	return Spec{
		Name: "atr",
		Params: []ParamSpec{
			{Name: "period", Type: ParamInt, Default: 14, Min: 2, Max: 100},
		},
		Columns: []string{""},
		Compute: computeATR,
	}
}

func adxSpec() Spec {
	return Spec{
		Name: "adx",
		Params: []ParamSpec{
			{Name: "period", Type: ParamInt, Default: 14, Min: 2, Max: 100},
		},
		Columns: []string{""},
		Compute: computeADX,
	}
}

func computeATR(series candle.Series, params map[string]float64) (Result, error) {
	period := int(params["period"])
	n := len(series.Candles)
	if period < 1 || n < period*2 {
		return Result{}, fmt.Errorf("atr: insufficient data: need at least %d bars for period %d, got %d", period*2, period, n)
	}

	high, low, closeP := highColumn(series), lowColumn(series), closeColumn(series)
	tr := trueRange(high, low, closeP)
	smoothTR := smoothWilder(tr, period)

	warmup := period
	if warmup > n {
		warmup = n
	}
	return Result{Columns: map[string][]float64{"": smoothTR}, Warmup: warmup}, nil
}

func computeADX(series candle.Series, params map[string]float64) (Result, error) {
	period := int(params["period"])
	n := len(series.Candles)
	if period < 1 || n < period*2 {
		return Result{}, fmt.Errorf("adx: insufficient data: need at least %d bars for period %d, got %d", period*2, period, n)
	}

	high, low, closeP := highColumn(series), lowColumn(series), closeColumn(series)
	adxValues := adxFromOHLC(high, low, closeP, period)

	warmup := period * 2
	if warmup > n {
		warmup = n
	}
	return Result{Columns: map[string][]float64{"": adxValues}, Warmup: warmup}, nil
}

func trueRange(high, low, closeP []float64) []float64 {
	n := len(closeP)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closeP[i-1]), math.Abs(low[i]-closeP[i-1])))
	}
	return tr
}

// adxFromOHLC computes +DI/-DI/DX and smooths DX into ADX, all via Wilder's
// smoothing.
func adxFromOHLC(high, low, closeP []float64, period int) []float64 {
	n := len(closeP)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	tr := trueRange(high, low, closeP)
	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	plusDI := make([]float64, n)
	minusDI := make([]float64, n)
	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI[i] = 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI[i] = 100 * smoothMinusDM[i] / smoothTR[i]
		diSum := plusDI[i] + minusDI[i]
		if diSum != 0 {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / diSum
		}
	}

	return smoothWilder(dx, period)
}

// smoothWilder applies Wilder's smoothing method: a simple average seed
// followed by an exponential-style recurrence with weight period-1.
func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)
	if n < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return result
}
