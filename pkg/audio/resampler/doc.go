// Package resampler converts mono 16-bit PCM between sample rates.
//
// A Resampler carries filter state between calls, so the frames of one
// stream must go through the same Resampler in order:
//
//	r, err := resampler.New(pcm.L16Mono48K, pcm.L16Mono24K)
//	if err != nil {
//	    return err
//	}
//	out, err := r.Frame(in)
package resampler
