package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/trend"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

func smaSpec() Spec {
	return Spec{
		Name: "sma",
		Params: []ParamSpec{
			{Name: "period", Type: ParamInt, Default: 20, Min: 2, Max: 400},
		},
		Columns: []string{""},
		Compute: computeSMAOn(closeColumn),
	}
}

func volumeSMASpec() Spec {
	return Spec{
		Name: "volume_sma",
		Params: []ParamSpec{
			{Name: "period", Type: ParamInt, Default: 20, Min: 2, Max: 400},
		},
		Columns: []string{""},
		Compute: computeSMAOn(volumeColumn),
	}
}

func computeSMAOn(column func(candle.Series) []float64) ComputeFunc {
	return func(series candle.Series, params map[string]float64) (Result, error) {
		period := int(params["period"])
		values := column(series)
		if period < 1 || period > len(values) {
			return Result{}, fmt.Errorf("sma: invalid period %d for %d bars", period, len(values))
		}
		out := trend.NewSmaWithPeriod[float64](period)
		trimmed := drainChan(out.Compute(sliceToChan(values)))
		full, warmup := padWithWarmup(len(values), trimmed)
		return Result{Columns: map[string][]float64{"": full}, Warmup: warmup}, nil
	}
}
