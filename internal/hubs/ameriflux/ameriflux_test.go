package ameriflux

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
)

const archiveURL = "https://amfcdn.lbl.gov/data/AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip"

func siteInfoFixture() string {
	return `{
		"values": [
			{
				"site_id": "US-Ha1",
				"site_name": "Harvard Forest",
				"grp_publish_fluxnet": [2000, 2010, 2005],
				"grp_location": {"location_lat": "42.5378", "location_long": -72.1715},
				"grp_igbp": {"igbp": "DBF"},
				"grp_network": ["AmeriFlux", "FLUXNET"],
				"grp_team_member": [
					{"team_member_name": "J. Doe", "team_member_role": "PI", "team_member_email": "jdoe@example.org"}
				],
				"doi": {"FLUXNET": "10.17190/AMF/1246059"}
			},
			{
				"site_id": "US-Ton",
				"site_name": "Tonzi Ranch",
				"grp_publish_fluxnet": [],
				"grp_location": {"location_lat": 38.4316, "location_long": -120.966},
				"grp_igbp": {"igbp": "WSA"}
			}
		]
	}`
}

func newTestServer(t *testing.T, citationsStatus int) (*httptest.Server, *[]map[string]any) {
	t.Helper()

	var trackingPayloads []map[string]any
	mux := http.NewServeMux()

	mux.HandleFunc("/site_info_display/AmeriFlux", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(siteInfoFixture()))
	})

	mux.HandleFunc("/amf_shuttle_data_files_and_manifest", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "fluxnetshuttle", payload["user_id"])
		assert.Equal(t, "FLUXNET", payload["data_product"])
		assert.Equal(t, "FULLSET", payload["data_variant"])

		_, _ = w.Write([]byte(`{
			"data_urls": [
				{"site_id": "US-Ha1", "url": "` + archiveURL + `"},
				{"site_id": "US-Bad", "url": "https://amfcdn.lbl.gov/data/not_a_fluxnet_archive.zip"}
			]
		}`))
	})

	mux.HandleFunc("/citations/FLUXNET", func(w http.ResponseWriter, r *http.Request) {
		if citationsStatus != http.StatusOK {
			w.WriteHeader(citationsStatus)
			return
		}
		_, _ = w.Write([]byte(`{
			"values": [
				{"site_id": "US-Ha1", "citation": "Munger, W. (2021) AmeriFlux FLUXNET US-Ha1"}
			]
		}`))
	})

	mux.HandleFunc("/log_shuttle_data_request", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "https://github.com/amf-flx/fluxnet-shuttle", r.Header.Get("Referer"))
		trackingPayloads = append(trackingPayloads, payload)
		_, _ = w.Write([]byte(`{}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &trackingPayloads
}

func newPlugin(t *testing.T, server *httptest.Server) *Plugin {
	t.Helper()

	instance, err := Factory(nil)(map[string]any{"api_url": server.URL + "/"})
	require.NoError(t, err)
	return instance.(*Plugin)
}

func drain(t *testing.T, st *stream.Stream[model.DatasetMetadata]) []model.DatasetMetadata {
	t.Helper()

	defer st.Close()
	var got []model.DatasetMetadata
	for {
		item, err := st.Next(context.Background())
		if errors.Is(err, stream.ErrDone) {
			return got
		}
		require.NoError(t, err)
		got = append(got, item)
	}
}

func TestSitesAssemblesRecords(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, http.StatusOK)
	p := newPlugin(t, server)

	got := drain(t, p.Sites(context.Background(), nil))
	require.Len(t, got, 1)

	record := got[0]
	assert.Equal(t, "US-Ha1", record.SiteInfo.SiteID)
	assert.Equal(t, "Harvard Forest", record.SiteInfo.SiteName)
	assert.Equal(t, "AmeriFlux", record.SiteInfo.DataHub)
	assert.InDelta(t, 42.5378, record.SiteInfo.LocationLat, 1e-6)
	assert.InDelta(t, -72.1715, record.SiteInfo.LocationLong, 1e-6)
	assert.Equal(t, "DBF", record.SiteInfo.IGBP)
	assert.Equal(t, []string{"AmeriFlux", "FLUXNET"}, record.SiteInfo.Networks)
	require.Len(t, record.SiteInfo.TeamMembers, 1)
	assert.Equal(t, "J. Doe", record.SiteInfo.TeamMembers[0].Name)

	assert.Equal(t, 2000, record.ProductData.FirstYear)
	assert.Equal(t, 2010, record.ProductData.LastYear)
	assert.Equal(t, archiveURL, record.ProductData.DownloadLink)
	assert.Equal(t, "AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip", record.ProductData.ProductName)
	assert.Equal(t, "10.17190/AMF/1246059", record.ProductData.ProductID)
	assert.Equal(t, "v3.5", record.ProductData.OneFluxCodeVersion)
	assert.Equal(t, "AMF", record.ProductData.SourceNetwork)
	assert.Contains(t, record.ProductData.Citation, "US-Ha1")
}

func TestSitesSkipsAllWhenCitationsUnavailable(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, http.StatusInternalServerError)
	p := newPlugin(t, server)

	got := drain(t, p.Sites(context.Background(), nil))
	assert.Empty(t, got)
}

func TestSitesFailsWhenSiteInfoUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	p := newPlugin(t, server)

	st := p.Sites(context.Background(), nil)
	defer st.Close()

	_, err := st.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDownloadTracksAndWritesFile(t *testing.T) {
	t.Parallel()

	server, tracking := newTestServer(t, http.StatusOK)

	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("zip-bytes"))
	}))
	t.Cleanup(archive.Close)

	p := newPlugin(t, server)
	outputPath := filepath.Join(t.TempDir(), "AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip")

	path, err := p.Download(context.Background(), plugin.DownloadRequest{
		SiteID:      "US-Ha1",
		DownloadURL: archive.URL + "/AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip",
		OutputPath:  outputPath,
		UserID:      "jdoe",
		UserEmail:   "jdoe@example.org",
		IntendedUse: "2",
		Description: "regional synthesis",
	})
	require.NoError(t, err)
	assert.Equal(t, outputPath, path)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	require.Len(t, *tracking, 1)
	payload := (*tracking)[0]
	assert.Equal(t, "fluxnetshuttle", payload["user_id"])
	assert.Equal(t, "jdoe", payload["user_name"])
	assert.Equal(t, "model", payload["intended_use"])
	assert.Equal(t, []any{"AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip"}, payload["zip_filenames"])
}

func TestDownloadSucceedsWhenTrackingFails(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/log_shuttle_data_request", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/archive.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("zip-bytes"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	p := newPlugin(t, server)
	outputPath := filepath.Join(t.TempDir(), "AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip")

	path, err := p.Download(context.Background(), plugin.DownloadRequest{
		SiteID:      "US-Ha1",
		DownloadURL: server.URL + "/archive.zip",
		OutputPath:  outputPath,
	})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestIntendedUseName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "code one", value: "1", want: "synthesis"},
		{name: "code six", value: "6", want: "other"},
		{name: "out of range code", value: "9", want: "synthesis"},
		{name: "known name", value: "education", want: "education"},
		{name: "mixed case name", value: "Remote_Sensing", want: "remote_sensing"},
		{name: "unknown value", value: "curiosity", want: "synthesis"},
		{name: "empty", value: "", want: "synthesis"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IntendedUseName(tt.value))
		})
	}
}
