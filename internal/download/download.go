// Package download fetches dataset archives for sites listed in a
// snapshot file, dispatching to the owning hub plugin when it carries
// hub-specific download logic.
package download

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/amf-flx/fluxnet-shuttle/internal/hubs"
	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
	"github.com/amf-flx/fluxnet-shuttle/internal/shuttle"
	"github.com/amf-flx/fluxnet-shuttle/internal/snapshot"
	"github.com/amf-flx/fluxnet-shuttle/pkg/errors"
)

// Options configures one download run.
type Options struct {
	// SnapshotFile is the snapshot CSV produced by a discovery run.
	SnapshotFile string

	// SiteIDs selects the sites to download. Empty means every site in
	// the snapshot.
	SiteIDs []string

	// OutputDir receives the archives. Defaults to the current directory.
	OutputDir string

	// Optional user tracking information forwarded to hubs that log
	// download requests.
	UserID      string
	UserEmail   string
	IntendedUse string
	Description string
}

// Manager executes download runs against the hubs known to a shuttle.
type Manager struct {
	shuttle *shuttle.Shuttle
	log     *logger.Logger
}

// New builds a Manager.
func New(s *shuttle.Shuttle, log *logger.Logger) *Manager {
	return &Manager{shuttle: s, log: log}
}

// Run downloads the archives for the selected sites. Every requested
// site must exist in the snapshot; sites without a product name are
// skipped. It returns the paths written, in site ID order.
func (m *Manager) Run(ctx context.Context, opts Options) ([]string, error) {
	if opts.SnapshotFile == "" {
		return nil, fmt.Errorf("no snapshot file provided")
	}

	entries, err := snapshot.Load(opts.SnapshotFile)
	if err != nil {
		return nil, err
	}
	m.log.WithFields(map[string]any{"sites": len(entries)}).Debug("loaded snapshot file")

	siteIDs := opts.SiteIDs
	if len(siteIDs) == 0 {
		siteIDs = make([]string, 0, len(entries))
		for siteID := range entries {
			siteIDs = append(siteIDs, siteID)
		}
		sort.Strings(siteIDs)
		m.log.WithFields(map[string]any{"sites": len(siteIDs)}).Info("no site IDs specified, downloading every site in the snapshot")
	}

	for _, siteID := range siteIDs {
		if _, ok := entries[siteID]; !ok {
			return nil, fmt.Errorf("site ID %s not found in snapshot file %s", siteID, opts.SnapshotFile)
		}
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	var paths []string
	for _, siteID := range siteIDs {
		entry := entries[siteID]
		log := m.log.WithFields(map[string]any{"site_id": siteID, "data_hub": entry.DataHub})

		if entry.ProductName == "" {
			log.Error(nil, "no product filename in snapshot, skipping download")
			continue
		}

		log.Info("downloading dataset archive")
		path, err := m.downloadOne(ctx, entry, outputDir, opts)
		if err != nil {
			return paths, err
		}

		log.WithFields(map[string]any{"path": path}).Info("downloaded dataset archive")
		paths = append(paths, path)
	}
	return paths, nil
}

// downloadOne fetches one archive, through the hub plugin when it
// implements plugin.Downloader and directly otherwise.
func (m *Manager) downloadOne(ctx context.Context, entry snapshot.Entry, outputDir string, opts Options) (string, error) {
	hub := strings.ToLower(entry.DataHub)
	outputPath := filepath.Join(outputDir, entry.ProductName)

	instance, err := m.shuttle.Instance(hub)
	if err != nil {
		return "", errors.NewDownloadError(entry.SiteID, hub, err)
	}

	if downloader, ok := instance.(plugin.Downloader); ok {
		return downloader.Download(ctx, plugin.DownloadRequest{
			SiteID:      entry.SiteID,
			DownloadURL: entry.DownloadLink,
			ProductID:   entry.ProductID,
			OutputPath:  outputPath,
			UserID:      opts.UserID,
			UserEmail:   opts.UserEmail,
			IntendedUse: opts.IntendedUse,
			Description: opts.Description,
		})
	}

	client := hubs.NewClient(hub, m.log)
	path, err := client.DownloadFile(ctx, entry.DownloadLink, outputPath)
	if err != nil {
		return "", errors.NewDownloadError(entry.SiteID, hub, err)
	}
	return path, nil
}
