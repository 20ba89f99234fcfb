// Package shuttle orchestrates dataset discovery across the configured
// data hub plugins, collecting per-hub failures without aborting the
// run.
package shuttle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/amf-flx/fluxnet-shuttle/internal/config"
	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
)

// NotConfiguredError is returned when a requested data hub has no entry
// in the configuration.
type NotConfiguredError struct {
	Hub string
}

func (e NotConfiguredError) Error() string {
	return fmt.Sprintf("data hub '%s' is not configured", e.Hub)
}

// DisabledError is returned when a requested data hub is configured but
// disabled.
type DisabledError struct {
	Hub string
}

func (e DisabledError) Error() string {
	return fmt.Sprintf("data hub '%s' is disabled", e.Hub)
}

// Shuttle coordinates discovery runs over a working set of data hubs.
// The working set is the explicitly requested hubs when given, otherwise
// every configured hub.
type Shuttle struct {
	registry *plugin.Registry
	config   *config.Config
	hubs     []string
	explicit bool
	logger   *logger.Logger

	mu   sync.Mutex
	last *plugin.ErrorCollectingIterator
}

// New builds a Shuttle. A nil cfg falls back to the built-in defaults;
// a nil dataHubs slice selects every configured hub.
func New(reg *plugin.Registry, cfg *config.Config, dataHubs []string, log *logger.Logger) *Shuttle {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Shuttle{
		registry: reg,
		config:   cfg,
		logger:   log,
	}

	if dataHubs == nil {
		s.hubs = cfg.HubNames()
	} else {
		s.explicit = true
		s.hubs = append([]string(nil), dataHubs...)
	}

	log.WithFields(map[string]any{"data_hubs": s.hubs}).Info("initialized shuttle")
	return s
}

// Instance builds a configured plugin instance for one data hub. It
// distinguishes hubs missing from the configuration from hubs that are
// present but disabled.
func (s *Shuttle) Instance(name string) (plugin.Plugin, error) {
	hubCfg, ok := s.config.DataHubs[name]
	if !ok {
		return nil, NotConfiguredError{Hub: name}
	}
	if !hubCfg.Enabled {
		return nil, DisabledError{Hub: name}
	}

	cfg := hubCfg.AsMap()
	cfg["parallel_requests"] = s.config.ParallelRequests
	return s.registry.NewInstance(name, cfg)
}

// resolveWorkingSet instantiates the plugins for this run. Explicitly
// requested hubs must be configured and enabled; a defaulted working
// set skips disabled hubs.
func (s *Shuttle) resolveWorkingSet() (map[string]plugin.Plugin, error) {
	instances := make(map[string]plugin.Plugin, len(s.hubs))
	for _, name := range s.hubs {
		instance, err := s.Instance(name)
		if err != nil {
			var disabled DisabledError
			if !s.explicit && errors.As(err, &disabled) {
				s.logger.WithFields(map[string]any{"data_hub": name}).Debug("skipping disabled data hub")
				continue
			}
			return nil, err
		}
		instances[name] = instance
	}
	return instances, nil
}

// AllSites streams dataset metadata from every hub in the working set.
// Hub failures during iteration are collected, not propagated; inspect
// them with Errors after the stream is drained. Configuration problems
// (unknown or disabled hubs requested explicitly, unregistered plugins)
// are reported synchronously.
func (s *Shuttle) AllSites(ctx context.Context, filters plugin.Filters) (*stream.Stream[model.DatasetMetadata], error) {
	instances, err := s.resolveWorkingSet()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := s.logger.WithFields(map[string]any{"run_id": runID, "operation": plugin.OpSites})
	if len(instances) == 0 {
		log.Warn("no enabled data hubs in working set")
	}

	it := plugin.NewErrorCollectingIterator(instances, plugin.OpSites, filters, log)
	s.mu.Lock()
	s.last = it
	s.mu.Unlock()

	return stream.New(func(ctx context.Context, yield func(model.DatasetMetadata) error) error {
		defer func() {
			summary := it.Summary()
			log.WithFields(map[string]any{
				"results": summary.TotalResults,
				"errors":  summary.TotalErrors,
			}).Info("completed site discovery")
			it.Close()
		}()

		for {
			item, err := it.Next(ctx)
			if errors.Is(err, stream.ErrDone) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := yield(item); err != nil {
				return err
			}
		}
	}), nil
}

// Errors returns the error summary of the most recent discovery run, or
// an empty summary when none has run yet. Safe to call mid-run for a
// point-in-time view.
func (s *Shuttle) Errors() model.ErrorSummary {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		return model.ErrorSummary{Errors: []model.ErrorDetail{}}
	}
	return last.Summary()
}

// ListAvailableDataHubs returns the registered plugin catalog, which may
// differ from the configured working set.
func (s *Shuttle) ListAvailableDataHubs() []string {
	return s.registry.List()
}
