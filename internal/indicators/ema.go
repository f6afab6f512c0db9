package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/trend"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

func emaSpec() Spec {
	return Spec{
		Name: "ema",
		Params: []ParamSpec{
			{Name: "period", Type: ParamInt, Default: 20, Min: 2, Max: 400},
		},
		Columns: []string{""},
		Compute: computeEMA,
	}
}

func computeEMA(series candle.Series, params map[string]float64) (Result, error) {
	period := int(params["period"])
	values := closeColumn(series)
	if period < 1 || period > len(values) {
		return Result{}, fmt.Errorf("ema: invalid period %d for %d bars", period, len(values))
	}
	out := trend.NewEmaWithPeriod[float64](period)
	trimmed := drainChan(out.Compute(sliceToChan(values)))
	full, warmup := padWithWarmup(len(values), trimmed)
	return Result{Columns: map[string][]float64{"": full}, Warmup: warmup}, nil
}
