// Package snapshot writes and reads the FLUXNET dataset snapshot CSV,
// the artifact connecting discovery runs to later downloads.
package snapshot

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
	"github.com/amf-flx/fluxnet-shuttle/pkg/errors"
)

// MultiValueDelimiter concatenates repeated values (networks, team
// members) into a single CSV cell.
const MultiValueDelimiter = ";"

// Fields is the snapshot column order.
var Fields = []string{
	"data_hub",
	"site_id",
	"site_name",
	"location_lat",
	"location_long",
	"igbp",
	"network",
	"team_member_name",
	"team_member_role",
	"team_member_email",
	"first_year",
	"last_year",
	"download_link",
	"fluxnet_product_name",
	"product_citation",
	"product_id",
	"oneflux_code_version",
	"product_source_network",
}

// Filename returns the timestamped snapshot filename for a run started
// at the given time.
func Filename(now time.Time) string {
	return fmt.Sprintf("fluxnet_shuttle_snapshot_%s.csv", now.Format("20060102T150405"))
}

// Row flattens one dataset record into the snapshot column order.
func Row(record model.DatasetMetadata) []string {
	site := record.SiteInfo
	product := record.ProductData

	names := make([]string, 0, len(site.TeamMembers))
	roles := make([]string, 0, len(site.TeamMembers))
	emails := make([]string, 0, len(site.TeamMembers))
	for _, member := range site.TeamMembers {
		names = append(names, member.Name)
		roles = append(roles, member.Role)
		emails = append(emails, member.Email)
	}

	return []string{
		site.DataHub,
		site.SiteID,
		site.SiteName,
		strconv.FormatFloat(site.LocationLat, 'f', -1, 64),
		strconv.FormatFloat(site.LocationLong, 'f', -1, 64),
		site.IGBP,
		strings.Join(site.Networks, MultiValueDelimiter),
		strings.Join(names, MultiValueDelimiter),
		strings.Join(roles, MultiValueDelimiter),
		strings.Join(emails, MultiValueDelimiter),
		strconv.Itoa(product.FirstYear),
		strconv.Itoa(product.LastYear),
		product.DownloadLink,
		product.ProductName,
		product.Citation,
		product.ProductID,
		product.OneFluxCodeVersion,
		product.SourceNetwork,
	}
}

// Write drains a discovery stream into a snapshot CSV under outputDir.
// It returns the file path and per-hub site counts. A stream failure
// after some rows leaves a partial file on disk and returns the error.
func Write(ctx context.Context, st *stream.Stream[model.DatasetMetadata], outputDir string, log *logger.Logger) (string, map[string]int, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(outputDir, Filename(time.Now()))
	file, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("create snapshot file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(Fields); err != nil {
		return "", nil, fmt.Errorf("write snapshot header: %w", err)
	}

	counts := make(map[string]int)
	for {
		record, err := st.Next(ctx)
		if stderrors.Is(err, stream.ErrDone) {
			break
		}
		if err != nil {
			return "", nil, err
		}

		counts[record.SiteInfo.DataHub]++
		if err := writer.Write(Row(record)); err != nil {
			return "", nil, fmt.Errorf("write snapshot row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", nil, fmt.Errorf("flush snapshot: %w", err)
	}

	log.WithFields(map[string]any{"path": path, "counts": counts}).Info("wrote dataset snapshot")
	return path, counts, nil
}

// Entry is one snapshot row as needed for downloads. Unrecognized
// columns are preserved in Extra.
type Entry struct {
	SiteID       string
	DataHub      string
	DownloadLink string
	ProductName  string
	ProductID    string
	Extra        map[string]string
}

// Load reads a snapshot CSV into entries keyed by site ID.
func Load(path string) (map[string]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewParseError(path, 0, err)
	}
	if len(rows) == 0 {
		return nil, errors.NewParseError(path, 1, stderrors.New("snapshot file is empty"))
	}

	index := make(map[string]int, len(rows[0]))
	for i, column := range rows[0] {
		index[strings.TrimSpace(column)] = i
	}
	if _, ok := index["site_id"]; !ok {
		return nil, errors.NewParseError(path, 1, stderrors.New("missing site_id column"))
	}

	field := func(row []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	entries := make(map[string]Entry, len(rows)-1)
	for line, row := range rows[1:] {
		siteID := field(row, "site_id")
		if siteID == "" {
			return nil, errors.NewParseError(path, line+2, stderrors.New("row has no site_id"))
		}

		extra := make(map[string]string, len(index))
		for column, i := range index {
			if i < len(row) {
				extra[column] = row[i]
			}
		}

		entries[siteID] = Entry{
			SiteID:       siteID,
			DataHub:      field(row, "data_hub"),
			DownloadLink: field(row, "download_link"),
			ProductName:  field(row, "fluxnet_product_name"),
			ProductID:    field(row, "product_id"),
			Extra:        extra,
		}
	}
	return entries, nil
}
