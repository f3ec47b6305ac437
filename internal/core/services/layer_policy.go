package services

import (
	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"
)

// HighestLayerPolicy asks for the top spatial and temporal layer.
type HighestLayerPolicy struct{}

func (HighestLayerPolicy) PreferredLayers(c ports.Consumer) domain.ConsumerLayers {
	var mode string
	if enc := c.RtpParameters().Encodings; len(enc) > 0 {
		mode = enc[0].ScalabilityMode
	}
	spatial, temporal := domain.ParseScalabilityMode(mode)
	return domain.ConsumerLayers{SpatialLayer: spatial - 1, TemporalLayer: temporal - 1}
}

// FixedLayerPolicy always asks for the same layers; the engine clamps them.
type FixedLayerPolicy struct {
	Layers domain.ConsumerLayers
}

func (f FixedLayerPolicy) PreferredLayers(ports.Consumer) domain.ConsumerLayers {
	return f.Layers
}
