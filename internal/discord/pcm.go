package discord

import "fmt"

// ConformPCM converts interleaved 16-bit PCM between channel layouts and
// sample rates so synthesized speech (typically 24 kHz mono) can be replayed
// over the 48 kHz transport. Rates must be related by a whole factor; the
// resampler repeats or drops samples, which is adequate for voice.
func ConformPCM(samples []int16, srcChannels, srcRate, dstChannels, dstRate int) ([]int16, error) {
	if srcChannels < 1 || dstChannels < 1 || srcRate < 1 || dstRate < 1 {
		return nil, fmt.Errorf("invalid pcm format: %d ch @ %d Hz -> %d ch @ %d Hz", srcChannels, srcRate, dstChannels, dstRate)
	}

	switch {
	case srcChannels == dstChannels:
	case srcChannels == 1 && dstChannels == 2:
		out := make([]int16, 0, len(samples)*2)
		for _, s := range samples {
			out = append(out, s, s)
		}
		samples = out
	case srcChannels == 2 && dstChannels == 1:
		out := make([]int16, 0, len(samples)/2)
		for i := 0; i+1 < len(samples); i += 2 {
			out = append(out, int16((int32(samples[i])+int32(samples[i+1]))/2))
		}
		samples = out
	default:
		return nil, fmt.Errorf("unsupported channel conversion: %d -> %d", srcChannels, dstChannels)
	}

	switch {
	case srcRate == dstRate:
		return samples, nil
	case dstRate%srcRate == 0:
		factor := dstRate / srcRate
		out := make([]int16, 0, len(samples)*factor)
		for i := 0; i < len(samples); i += dstChannels {
			end := min(i+dstChannels, len(samples))
			for k := 0; k < factor; k++ {
				out = append(out, samples[i:end]...)
			}
		}
		return out, nil
	case srcRate%dstRate == 0:
		factor := srcRate / dstRate
		out := make([]int16, 0, len(samples)/factor)
		stride := dstChannels * factor
		for i := 0; i+dstChannels <= len(samples); i += stride {
			out = append(out, samples[i:i+dstChannels]...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported sample rate conversion: %d -> %d", srcRate, dstRate)
	}
}
