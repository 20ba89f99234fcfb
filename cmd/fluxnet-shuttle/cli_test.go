package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
	"github.com/amf-flx/fluxnet-shuttle/internal/snapshot"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	if stdin != "" {
		root.SetIn(strings.NewReader(stdin))
	}
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	originalVersion := version
	originalCommit := commit
	originalDate := date
	t.Cleanup(func() {
		version = originalVersion
		commit = originalCommit
		date = originalDate
	})

	version = "1.2.3"
	commit = "abcdef1"
	date = "2026-08-23"

	output, err := execute(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, output, "1.2.3")
	require.Contains(t, output, "abcdef1")
	require.Contains(t, output, "2026-08-23")
}

func TestHubsCommandListsRegisteredPlugins(t *testing.T) {
	output, err := execute(t, "", "hubs", "--no-log-file")
	require.NoError(t, err)

	assert.Contains(t, output, "AmeriFlux (ameriflux)")
	assert.Contains(t, output, "ICOS (icos)")
	assert.Contains(t, output, "TERN (tern)")
}

func TestRegisterHubsRegistersAllFactories(t *testing.T) {
	reg := plugin.NewRegistry(nil)
	require.NoError(t, registerHubs(reg, nil))
	assert.Equal(t, []string{"ameriflux", "icos", "tern"}, reg.List())
}

func TestDownloadCommandRequiresSnapshotFlag(t *testing.T) {
	_, err := execute(t, "", "download", "--no-log-file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot-file")
}

func TestDownloadCommandCancelledAtPrompt(t *testing.T) {
	path := writeTestSnapshot(t)

	output, err := execute(t, "n\n", "download", "--no-log-file", "-f", path, "-o", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, output, "Proceed with download?")
	assert.Contains(t, output, "Download cancelled.")
}

func TestDownloadCommandRejectsMissingOutputDir(t *testing.T) {
	path := writeTestSnapshot(t)

	_, err := execute(t, "", "download", "--no-log-file", "-f", path, "-s", "US-Ha1",
		"-o", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestListallCommandRejectsMissingOutputDir(t *testing.T) {
	_, err := execute(t, "", "listall", "--no-log-file", "-o", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestRenderListallSummary(t *testing.T) {
	summary := model.ErrorSummary{
		TotalErrors:  1,
		TotalResults: 3,
		Errors: []model.ErrorDetail{
			{DataHub: "icos", Operation: "get_sites", Error: "sparql endpoint down", Timestamp: time.Now()},
		},
	}

	out := renderListallSummary("/tmp/fluxnet_shuttle_snapshot_20260823T140509.csv",
		map[string]int{"AmeriFlux": 2, "TERN": 1}, summary)

	assert.Contains(t, out, "fluxnet_shuttle_snapshot_20260823T140509.csv")
	assert.Contains(t, out, "AmeriFlux:")
	assert.Contains(t, out, "3 sites total")
	assert.Contains(t, out, "sparql endpoint down")
}

func TestValidateOutputDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, validateOutputDir(dir))

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Error(t, validateOutputDir(file))
	assert.Error(t, validateOutputDir(filepath.Join(dir, "absent")))
}

func writeTestSnapshot(t *testing.T) string {
	t.Helper()

	row := make([]string, len(snapshot.Fields))
	for i, field := range snapshot.Fields {
		switch field {
		case "data_hub":
			row[i] = "AmeriFlux"
		case "site_id":
			row[i] = "US-Ha1"
		case "download_link":
			row[i] = "https://example.org/a.zip"
		case "fluxnet_product_name":
			row[i] = "AMF_US-Ha1_FLUXNET_2000-2010_v3.5_r1.zip"
		}
	}

	content := strings.Join(snapshot.Fields, ",") + "\n" + strings.Join(row, ",") + "\n"
	path := filepath.Join(t.TempDir(), "snapshot.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
