package audio

// Resample converts mono samples between rates with linear interpolation. Integer
// downsampling ratios fall back to plain decimation.
func Resample(in []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	if from > to && from%to == 0 {
		step := from / to
		out := make([]int16, len(in)/step)
		for i := range out {
			out[i] = in[i*step]
		}
		return out
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		a := float64(in[j])
		b := a
		if j+1 < len(in) {
			b = float64(in[j+1])
		}
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
