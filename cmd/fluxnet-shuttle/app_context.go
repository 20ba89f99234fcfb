package main

import (
	"fmt"

	"github.com/amf-flx/fluxnet-shuttle/internal/config"
	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
)

// appContext bundles the pieces every command needs: a configured
// logger, the resolved configuration, and the plugin registry with the
// hub factories registered.
type appContext struct {
	log      *logger.Logger
	cfg      *config.Config
	registry *plugin.Registry
}

func newAppContext(flags *rootFlags) (*appContext, error) {
	level := "info"
	if flags.verbose {
		level = "debug"
	}

	logPath := flags.logFile
	if flags.noLogFile {
		logPath = ""
	}

	log, err := logger.NewForConsole(level, logPath)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	cfg := config.Default()
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
		if err != nil {
			log.Close() //nolint:errcheck
			return nil, err
		}
	}

	registry := plugin.NewRegistry(log)
	if err := registerHubs(registry, log); err != nil {
		log.Close() //nolint:errcheck
		return nil, err
	}

	return &appContext{log: log, cfg: cfg, registry: registry}, nil
}

func (a *appContext) Close() {
	a.log.Close() //nolint:errcheck
}
