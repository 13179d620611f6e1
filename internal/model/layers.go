package model

import (
	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

// part binds a layer to its name in the trained state dict.
type part struct {
	prefix string
	layer  nn.Layer
}

func paramsOf(prefix string, parts []part) []weights.Spec {
	var specs []weights.Spec
	for _, p := range parts {
		specs = append(specs, p.layer.Params(prefix+p.prefix)...)
	}
	return specs
}

func loadParts(src weights.Source, parts []part) error {
	for _, p := range parts {
		if err := p.layer.Load(src.WithPrefix(p.prefix)); err != nil {
			return err
		}
	}
	return nil
}
