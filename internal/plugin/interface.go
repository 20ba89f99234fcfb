// Package plugin defines the data hub plugin contract, the factory
// registry, and the error-collecting iterator that multiplexes site
// streams from several hubs.
package plugin

import (
	"context"

	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
)

// OpSites is the discovery operation every data hub plugin provides.
const OpSites = "get_sites"

// Filters carries optional site-selection parameters passed through to
// the hub's discovery operation.
type Filters map[string]any

// StreamFunc is a named stream operation exposed by a plugin.
type StreamFunc func(ctx context.Context, filters Filters) *stream.Stream[model.DatasetMetadata]

// Plugin is the contract every data hub implements. Name returns the
// lowercase hub identifier (e.g. "ameriflux"); DisplayName a
// human-readable label. Sites streams the hub's dataset metadata.
// Construction must not perform I/O; all network work happens inside
// the returned stream's producer.
type Plugin interface {
	Name() string
	DisplayName() string
	Sites(ctx context.Context, filters Filters) *stream.Stream[model.DatasetMetadata]
}

// Factory builds a plugin instance from hub configuration. Factories
// must tolerate a nil config.
type Factory func(config map[string]any) (Plugin, error)

// OperationProvider is an optional capability for plugins exposing
// stream operations beyond Sites. Operation reports whether the named
// operation exists; a nil StreamFunc with ok=true marks an operation
// that is declared but not invocable.
type OperationProvider interface {
	Operation(name string) (fn StreamFunc, ok bool)
}

// DownloadRequest carries everything a hub needs to fetch one archive.
type DownloadRequest struct {
	SiteID      string
	DownloadURL string
	ProductID   string
	OutputPath  string
	UserID      string
	UserEmail   string
	IntendedUse string
	Description string
}

// Downloader is an optional capability for plugins with hub-specific
// download behavior (e.g. request tracking). Download writes the
// archive to req.OutputPath and returns the path written.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (string, error)
}
