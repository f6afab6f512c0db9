package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/trend"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

func macdSpec() Spec {
	return Spec{
		Name: "macd",
		Params: []ParamSpec{
			{Name: "fast_period", Type: ParamInt, Default: 12, Min: 2, Max: 100},
			{Name: "slow_period", Type: ParamInt, Default: 26, Min: 3, Max: 200},
			{Name: "signal_period", Type: ParamInt, Default: 9, Min: 2, Max: 100},
		},
		Columns: []string{"macd", "signal", "histogram"},
		Compute: computeMACD,
	}
}

func computeMACD(series candle.Series, params map[string]float64) (Result, error) {
	fast := int(params["fast_period"])
	slow := int(params["slow_period"])
	signalP := int(params["signal_period"])
	if fast < 1 || slow < 1 || signalP < 1 {
		return Result{}, fmt.Errorf("macd: periods must be positive (fast=%d slow=%d signal=%d)", fast, slow, signalP)
	}
	if fast >= slow {
		return Result{}, fmt.Errorf("macd: fast period (%d) must be less than slow period (%d)", fast, slow)
	}
	values := closeColumn(series)
	if len(values) < slow+signalP {
		return Result{}, fmt.Errorf("macd: need at least %d bars, got %d", slow+signalP, len(values))
	}

	ind := trend.NewMacdWithPeriod[float64](fast, slow, signalP)
	macdChan, signalChan := ind.Compute(sliceToChan(values))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}

	macdFull, warmup := padWithWarmup(len(values), macdValues)
	signalFull, sigWarmup := padWithWarmup(len(values), signalValues)
	if sigWarmup > warmup {
		warmup = sigWarmup
	}

	histogram := make([]float64, len(values))
	for i := warmup; i < len(values); i++ {
		histogram[i] = macdFull[i] - signalFull[i]
	}

	return Result{
		Columns: map[string][]float64{
			"macd":      macdFull,
			"signal":    signalFull,
			"histogram": histogram,
		},
		Warmup: warmup,
	}, nil
}
