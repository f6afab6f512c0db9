package indicators

// sliceToChan/drainChan translate between the per-bar []float64 vectors this
// registry deals in and the channel-based streaming API cinar/indicator/v2
// exposes.

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func drainChan(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// padWithWarmup expands a trimmed output vector (as produced by cinar's
// streaming operators, which emit fewer values than they consume) back to
// full input length, with the leading `warmup` entries left as the zero
// sentinel.
func padWithWarmup(inputLen int, trimmed []float64) (full []float64, warmup int) {
	warmup = inputLen - len(trimmed)
	if warmup < 0 {
		warmup = 0
	}
	full = make([]float64, inputLen)
	copy(full[warmup:], trimmed)
	return full, warmup
}
