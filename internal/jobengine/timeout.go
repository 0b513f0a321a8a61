package jobengine

import (
	"time"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// computeTimeout implements spec.md §4.6.7: base + steps * per-step,
// multiplied by the img2img multiplier if any node in the graph requests
// denoise < 1.0 (an image-to-image pass, which runs slower per step).
func computeTimeout(cfg config.RendererConfig, steps int, g model.Graph) time.Duration {
	seconds := cfg.BaseTimeoutSeconds + float64(steps)*cfg.PerStepTimeoutSeconds
	if isImg2Img(g) {
		seconds *= cfg.Img2ImgTimeoutMultiplier
	}
	return time.Duration(seconds * float64(time.Second))
}

func isImg2Img(g model.Graph) bool {
	for _, node := range g {
		denoise, ok := node.Inputs["denoise"]
		if !ok {
			continue
		}
		if f, ok := toFloatValue(denoise); ok && f < 1.0 {
			return true
		}
	}
	return false
}

func toFloatValue(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
