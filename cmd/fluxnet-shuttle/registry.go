package main

import (
	"github.com/amf-flx/fluxnet-shuttle/internal/hubs/ameriflux"
	"github.com/amf-flx/fluxnet-shuttle/internal/hubs/icos"
	"github.com/amf-flx/fluxnet-shuttle/internal/hubs/tern"
	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
)

// registerHubs registers every built-in data hub factory. Registration
// happens once at process start, before any concurrent use of the
// registry.
func registerHubs(registry *plugin.Registry, log *logger.Logger) error {
	factories := []plugin.Factory{
		ameriflux.Factory(log),
		icos.Factory(log),
		tern.Factory(log),
	}

	for _, factory := range factories {
		if err := registry.Register(factory); err != nil {
			return err
		}
	}
	return nil
}
