package driver

import (
	"camnode-go/internal/camera"
	"camnode-go/internal/msg"
)

// brightnessSamples caps how many pixels the per-frame mean reads, so the
// cost stays flat as resolution grows.
const brightnessSamples = 4096

// Brightness computes the mean pixel value of a Mono8 frame on a
// subsampled grid, 0..255. Frames in other formats or with a buffer that
// does not match their geometry yield BrightnessInvalid.
func Brightness(f camera.Frame) int16 {
	if f.PixelFormat != "Mono8" {
		return msg.BrightnessInvalid
	}
	if len(f.Data) == 0 || len(f.Data) != f.Width*f.Height {
		return msg.BrightnessInvalid
	}

	stride := len(f.Data) / brightnessSamples
	if stride < 1 {
		stride = 1
	}

	var sum, count uint64
	for i := 0; i < len(f.Data); i += stride {
		sum += uint64(f.Data[i])
		count++
	}
	return int16(sum / count)
}
