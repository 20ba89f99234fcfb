package snapshot

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
	pkgerrors "github.com/amf-flx/fluxnet-shuttle/pkg/errors"
)

func record(hub, siteID string) model.DatasetMetadata {
	return model.DatasetMetadata{
		SiteInfo: model.SiteGeneralInfo{
			SiteID:       siteID,
			SiteName:     "Harvard Forest",
			DataHub:      hub,
			LocationLat:  42.5378,
			LocationLong: -72.1715,
			IGBP:         "DBF",
			Networks:     []string{"AmeriFlux", "FLUXNET"},
			TeamMembers: []model.TeamMember{
				{Name: "J. Doe", Role: "PI", Email: "jdoe@example.org"},
				{Name: "A. Smith", Role: "Technician", Email: ""},
			},
		},
		ProductData: model.FluxnetProduct{
			FirstYear:          2000,
			LastYear:           2010,
			DownloadLink:       "https://example.org/" + siteID + ".zip",
			ProductName:        "AMF_" + siteID + "_FLUXNET_2000-2010_v3.5_r1.zip",
			Citation:           "Munger, W. (2021)",
			ProductID:          "10.17190/AMF/1246059",
			OneFluxCodeVersion: "v3.5",
			SourceNetwork:      "AMF",
		},
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 23, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "fluxnet_shuttle_snapshot_20260823T140509.csv", Filename(ts))
}

func TestRowFlattensRecord(t *testing.T) {
	t.Parallel()

	row := Row(record("AmeriFlux", "US-Ha1"))
	require.Len(t, row, len(Fields))

	byField := make(map[string]string, len(Fields))
	for i, field := range Fields {
		byField[field] = row[i]
	}

	assert.Equal(t, "AmeriFlux", byField["data_hub"])
	assert.Equal(t, "US-Ha1", byField["site_id"])
	assert.Equal(t, "42.5378", byField["location_lat"])
	assert.Equal(t, "-72.1715", byField["location_long"])
	assert.Equal(t, "AmeriFlux;FLUXNET", byField["network"])
	assert.Equal(t, "J. Doe;A. Smith", byField["team_member_name"])
	assert.Equal(t, "PI;Technician", byField["team_member_role"])
	assert.Equal(t, "jdoe@example.org;", byField["team_member_email"])
	assert.Equal(t, "2000", byField["first_year"])
	assert.Equal(t, "2010", byField["last_year"])
	assert.Equal(t, "AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip", byField["fluxnet_product_name"])
}

func TestWriteProducesSnapshotWithCounts(t *testing.T) {
	t.Parallel()

	st := stream.FromSlice([]model.DatasetMetadata{
		record("AmeriFlux", "US-Ha1"),
		record("AmeriFlux", "US-Ton"),
		record("ICOS", "DE-Hai"),
	})

	dir := t.TempDir()
	path, counts, err := Write(context.Background(), st, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"AmeriFlux": 2, "ICOS": 1}, counts)
	assert.Equal(t, dir, filepath.Dir(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Fields, rows[0])
	assert.Equal(t, "US-Ha1", rows[1][1])
	assert.Equal(t, "DE-Hai", rows[3][1])
}

func TestWritePropagatesStreamFailure(t *testing.T) {
	t.Parallel()

	st := stream.New(func(ctx context.Context, yield func(model.DatasetMetadata) error) error {
		if err := yield(record("AmeriFlux", "US-Ha1")); err != nil {
			return err
		}
		return pkgerrors.NewPluginErrorf("icos", "sparql endpoint down")
	})

	_, _, err := Write(context.Background(), st, t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sparql endpoint down")
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	st := stream.FromSlice([]model.DatasetMetadata{
		record("AmeriFlux", "US-Ha1"),
		record("TERN", "AU-Tum"),
	})

	path, _, err := Write(context.Background(), st, t.TempDir(), nil)
	require.NoError(t, err)

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entry := entries["US-Ha1"]
	assert.Equal(t, "AmeriFlux", entry.DataHub)
	assert.Equal(t, "https://example.org/US-Ha1.zip", entry.DownloadLink)
	assert.Equal(t, "AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip", entry.ProductName)
	assert.Equal(t, "10.17190/AMF/1246059", entry.ProductID)
	assert.Equal(t, "DBF", entry.Extra["igbp"])
}

func TestLoadRejectsMissingSiteIDColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	var parseErr *pkgerrors.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
}
