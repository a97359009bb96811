package main

import (
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/adapter"
	"github.com/sells-group/lobbyharvest/internal/config"
	"github.com/sells-group/lobbyharvest/internal/dispatch"
	"github.com/sells-group/lobbyharvest/internal/harvest"
	"github.com/sells-group/lobbyharvest/internal/resilience"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// initRegistry registers every built-in adapter with its configured policy.
func initRegistry(c *config.Config) (*source.Registry, error) {
	policies := make(map[string]source.Policy)
	for _, id := range adapter.IDs() {
		p, err := c.Policy(id)
		if err != nil {
			return nil, err
		}
		policies[id] = p
	}

	reg := source.NewRegistry()
	opts := adapter.Options{
		UserAgent: c.HTTP.UserAgent,
		Timeout:   c.HTTP.Timeout,
		BaseURLs:  c.BaseURLs(),
	}
	if err := adapter.Register(reg, opts, func(id string) source.Policy { return policies[id] }); err != nil {
		return nil, err
	}
	return reg, nil
}

// initDispatcher builds the dispatcher, with per-source circuit breakers
// unless the failure threshold is 0.
func initDispatcher(c *config.Config) *dispatch.Dispatcher {
	opts := []dispatch.Option{dispatch.WithMaxConcurrent(c.Harvest.MaxConcurrent)}
	if cb, ok := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeout); ok {
		opts = append(opts, dispatch.WithCircuitBreakers(cb))
	} else {
		zap.L().Debug("circuit breakers disabled")
	}
	return dispatch.New(opts...)
}

// initHarvester wires the registry, dispatcher and query pipeline used by
// the harvest and serve commands.
func initHarvester(c *config.Config) (*harvest.Harvester, error) {
	reg, err := initRegistry(c)
	if err != nil {
		return nil, err
	}
	return harvest.New(reg, initDispatcher(c), harvest.WithQueryTimeout(c.Harvest.QueryTimeout)), nil
}
