package provider

import (
	"context"

	"walletsync/pkg/logger"
)

// Probe looks for a provider in the environment.
type Probe func(ctx context.Context) (Provider, error)

// Detect runs probe once. A missing provider is a normal outcome: probe
// errors are logged at debug level and reported as absent.
func Detect(ctx context.Context, probe Probe) (Provider, bool) {
	log := logger.For("detect")
	if probe == nil {
		return nil, false
	}
	p, err := probe(ctx)
	if err != nil {
		log.Debug("no wallet provider", "err", err)
		return nil, false
	}
	if p == nil {
		log.Debug("no wallet provider")
		return nil, false
	}
	log.Debug("wallet provider detected", "metamask", p.IsMetaMask())
	return p, true
}

// Static returns a probe that always yields p. A nil p means absent.
func Static(p Provider) Probe {
	return func(context.Context) (Provider, error) {
		return p, nil
	}
}
