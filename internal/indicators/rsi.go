package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

func rsiSpec() Spec {
	return Spec{
		Name: "rsi",
		Params: []ParamSpec{
			{Name: "period", Type: ParamInt, Default: 14, Min: 2, Max: 100},
		},
		Columns: []string{""},
		Compute: computeRSI,
	}
}

func computeRSI(series candle.Series, params map[string]float64) (Result, error) {
	period := int(params["period"])
	values := closeColumn(series)
	if period < 1 || period > len(values) {
		return Result{}, fmt.Errorf("rsi: invalid period %d for %d bars", period, len(values))
	}
	out := momentum.NewRsiWithPeriod[float64](period)
	trimmed := drainChan(out.Compute(sliceToChan(values)))
	full, warmup := padWithWarmup(len(values), trimmed)
	return Result{Columns: map[string][]float64{"": full}, Warmup: warmup}, nil
}
