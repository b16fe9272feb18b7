package collector

import (
	"context"
	"time"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
)

// Sampler reads the receive and transmit log sizes for one tick.
type Sampler struct {
	probe  *SizeProbe
	rxPath string
	txPath string
	now    func() time.Time
}

// NewSampler creates a sampler for the given remote log paths.
func NewSampler(probe *SizeProbe, rxPath, txPath string) *Sampler {
	if probe == nil {
		probe = NewSizeProbe(nil)
	}
	return &Sampler{
		probe:  probe,
		rxPath: rxPath,
		txPath: txPath,
		now:    time.Now,
	}
}

// Collect probes both logs. Unreadable sizes come back as models.Unknown;
// an error means the session is gone.
func (s *Sampler) Collect(ctx context.Context, r Runner) (models.Sample, error) {
	rx, err := s.probe.Size(ctx, r, s.rxPath)
	if err != nil {
		return models.Sample{}, err
	}
	tx, err := s.probe.Size(ctx, r, s.txPath)
	if err != nil {
		return models.Sample{}, err
	}
	return models.Sample{RX: rx, TX: tx, ObservedAt: s.now().UTC()}, nil
}
