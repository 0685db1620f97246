package detector

import (
	"context"
	"errors"
	"image"
)

// warmupDimensions returns the blank-frame size used for warmup.
func (d *Detector) warmupDimensions() (int, int) {
	if d.config.Variant == VariantTextBoxes {
		return d.config.InputWidth, d.config.InputHeight
	}
	return 320, 320
}

// Warmup runs a number of forward passes with a blank image to reduce
// first-run latency.
func (d *Detector) Warmup(ctx context.Context, iterations int) error {
	if iterations <= 0 {
		return nil
	}
	d.mu.RLock()
	engine := d.engine
	d.mu.RUnlock()
	if engine == nil {
		return errors.New("detector is closed")
	}

	w, h := d.warmupDimensions()
	prep, err := d.preprocess(image.NewNRGBA(image.Rect(0, 0, w, h)))
	if err != nil {
		return err
	}
	defer prep.blob.Release()

	for range iterations {
		if _, err := engine.Infer(ctx, prep.blob); err != nil {
			return err
		}
	}
	return nil
}
