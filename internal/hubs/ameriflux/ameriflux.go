// Package ameriflux implements the AmeriFlux data hub plugin on top of
// the AmeriFlux CDN REST API.
package ameriflux

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/amf-flx/fluxnet-shuttle/internal/fluxname"
	"github.com/amf-flx/fluxnet-shuttle/internal/hubs"
	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
	"github.com/amf-flx/fluxnet-shuttle/pkg/errors"
)

const (
	// DefaultBaseURL is the AmeriFlux CDN API root.
	DefaultBaseURL = "https://amfcdn.lbl.gov/api/v2/"

	siteInfoPath  = "site_info_display/AmeriFlux"
	downloadPath  = "amf_shuttle_data_files_and_manifest"
	trackingPath  = "log_shuttle_data_request"
	citationsPath = "citations/FLUXNET"

	shuttleUserID = "fluxnetshuttle"
	referrerURL   = "https://github.com/amf-flx/fluxnet-shuttle"
)

// intendedUseNames are the AmeriFlux tracking categories, indexed by
// code 1-6.
var intendedUseNames = []string{"synthesis", "model", "remote_sensing", "other_research", "education", "other"}

// IntendedUseName normalizes an intended-use value to the category name
// the tracking endpoint expects. Numeric codes 1-6 map to their names;
// known names pass through; anything else falls back to "synthesis".
func IntendedUseName(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if code, err := strconv.Atoi(trimmed); err == nil {
		if code >= 1 && code <= len(intendedUseNames) {
			return intendedUseNames[code-1]
		}
		return intendedUseNames[0]
	}
	for _, name := range intendedUseNames {
		if trimmed == name {
			return name
		}
	}
	return intendedUseNames[0]
}

// Plugin is the AmeriFlux data hub plugin.
type Plugin struct {
	baseURL string
	client  *hubs.Client
	log     *logger.Logger
}

// Factory returns a plugin.Factory for the registry. The config key
// "api_url" overrides the CDN API root.
func Factory(log *logger.Logger) plugin.Factory {
	return func(config map[string]any) (plugin.Plugin, error) {
		return &Plugin{
			baseURL: hubs.ConfigString(config, "api_url", DefaultBaseURL),
			client:  hubs.NewClientWithLimit("ameriflux", hubs.ConfigInt(config, "parallel_requests", 0), log),
			log:     log,
		}, nil
	}
}

func (p *Plugin) Name() string        { return "ameriflux" }
func (p *Plugin) DisplayName() string { return "AmeriFlux" }

// flexFloat tolerates the API serializing coordinates as either JSON
// numbers or strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(value)
	return nil
}

type siteInfo struct {
	SiteID            string `json:"site_id"`
	SiteName          string `json:"site_name"`
	GrpPublishFluxnet []int  `json:"grp_publish_fluxnet"`
	GrpLocation       struct {
		LocationLat  flexFloat `json:"location_lat"`
		LocationLong flexFloat `json:"location_long"`
	} `json:"grp_location"`
	GrpIGBP struct {
		IGBP string `json:"igbp"`
	} `json:"grp_igbp"`
	GrpNetwork    []string `json:"grp_network"`
	GrpTeamMember []struct {
		Name  string `json:"team_member_name"`
		Role  string `json:"team_member_role"`
		Email string `json:"team_member_email"`
	} `json:"grp_team_member"`
	DOI json.RawMessage `json:"doi"`
}

type siteInfoResponse struct {
	Values []siteInfo `json:"values"`
}

type manifestEntry struct {
	SiteID string `json:"site_id"`
	URL    string `json:"url"`
}

type manifestResponse struct {
	DataURLs []manifestEntry `json:"data_urls"`
}

type citationsResponse struct {
	Values []struct {
		SiteID   string `json:"site_id"`
		Citation string `json:"citation"`
	} `json:"values"`
}

// Sites streams AmeriFlux sites carrying FLUXNET FULLSET products. Sites
// with malformed archive names, no publish years, or no citation are
// skipped.
func (p *Plugin) Sites(ctx context.Context, filters plugin.Filters) *stream.Stream[model.DatasetMetadata] {
	return stream.New(func(ctx context.Context, yield func(model.DatasetMetadata) error) error {
		sites, err := p.siteMetadata(ctx)
		if err != nil {
			return err
		}
		if len(sites) == 0 {
			p.log.Warn("no AmeriFlux sites with FLUXNET data found")
			return nil
		}

		siteIDs := make([]string, 0, len(sites))
		for siteID := range sites {
			siteIDs = append(siteIDs, siteID)
		}

		manifest, err := p.downloadManifest(ctx, siteIDs)
		if err != nil {
			return err
		}
		if len(manifest.DataURLs) == 0 {
			p.log.Warn("no AmeriFlux download links found")
			return nil
		}

		// Citations are optional; a failure degrades to empty.
		citations := p.citations(ctx, siteIDs)

		for _, entry := range manifest.DataURLs {
			record, ok := p.assemble(entry, sites, citations)
			if !ok {
				continue
			}
			if err := yield(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Plugin) siteMetadata(ctx context.Context) (map[string]siteInfo, error) {
	var response siteInfoResponse
	if err := p.client.GetJSON(ctx, p.baseURL+siteInfoPath, &response); err != nil {
		return nil, err
	}

	sites := make(map[string]siteInfo, len(response.Values))
	for _, site := range response.Values {
		if site.SiteID == "" || len(site.GrpPublishFluxnet) == 0 {
			continue
		}
		sites[site.SiteID] = site
	}
	return sites, nil
}

func (p *Plugin) downloadManifest(ctx context.Context, siteIDs []string) (manifestResponse, error) {
	payload := map[string]any{
		"user_id":      shuttleUserID,
		"data_product": "FLUXNET",
		"data_variant": "FULLSET",
		"site_ids":     siteIDs,
	}

	var response manifestResponse
	if err := p.client.PostJSON(ctx, p.baseURL+downloadPath, payload, &response, nil); err != nil {
		return manifestResponse{}, err
	}
	return response, nil
}

func (p *Plugin) citations(ctx context.Context, siteIDs []string) map[string]string {
	var response citationsResponse
	if err := p.client.PostJSON(ctx, p.baseURL+citationsPath, map[string]any{"site_ids": siteIDs}, &response, nil); err != nil {
		p.log.Error(err, "failed to fetch AmeriFlux citations")
		return map[string]string{}
	}

	citations := make(map[string]string, len(response.Values))
	for _, item := range response.Values {
		if item.SiteID != "" {
			citations[item.SiteID] = item.Citation
		}
	}
	return citations
}

func (p *Plugin) assemble(entry manifestEntry, sites map[string]siteInfo, citations map[string]string) (model.DatasetMetadata, bool) {
	log := p.log.WithFields(map[string]any{"site_id": entry.SiteID})

	meta, ok := fluxname.Parse(entry.URL)
	if !ok {
		log.Debug("skipping site: archive filename does not follow the FLUXNET pattern")
		return model.DatasetMetadata{}, false
	}

	site, ok := sites[entry.SiteID]
	if !ok || len(site.GrpPublishFluxnet) == 0 {
		log.Info("skipping site: no publish years available")
		return model.DatasetMetadata{}, false
	}

	citation := citations[entry.SiteID]
	if citation == "" {
		log.Warn("skipping site: no citation available, contact ameriflux-support@lbl.gov")
		return model.DatasetMetadata{}, false
	}

	firstYear, lastYear := site.GrpPublishFluxnet[0], site.GrpPublishFluxnet[0]
	for _, year := range site.GrpPublishFluxnet {
		if year < firstYear {
			firstYear = year
		}
		if year > lastYear {
			lastYear = year
		}
	}

	teamMembers := make([]model.TeamMember, 0, len(site.GrpTeamMember))
	for _, member := range site.GrpTeamMember {
		teamMembers = append(teamMembers, model.TeamMember{Name: member.Name, Role: member.Role, Email: member.Email})
	}

	record := model.DatasetMetadata{
		SiteInfo: model.SiteGeneralInfo{
			SiteID:       entry.SiteID,
			SiteName:     site.SiteName,
			DataHub:      "AmeriFlux",
			LocationLat:  float64(site.GrpLocation.LocationLat),
			LocationLong: float64(site.GrpLocation.LocationLong),
			IGBP:         igbpOrUnknown(site.GrpIGBP.IGBP),
			Networks:     site.GrpNetwork,
			TeamMembers:  teamMembers,
		},
		ProductData: model.FluxnetProduct{
			FirstYear:          firstYear,
			LastYear:           lastYear,
			DownloadLink:       entry.URL,
			ProductName:        fluxname.FilenameFromURL(entry.URL),
			Citation:           citation,
			ProductID:          p.fluxnetDOI(site.DOI),
			OneFluxCodeVersion: meta.Version,
			SourceNetwork:      meta.Network,
		},
	}

	if err := record.Validate(); err != nil {
		log.Error(err, "skipping site: record failed validation")
		return model.DatasetMetadata{}, false
	}
	return record, true
}

// fluxnetDOI extracts the FLUXNET DOI from the doi field, which the API
// serializes as either an object or a bare string.
func (p *Plugin) fluxnetDOI(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var byProduct map[string]string
	if err := json.Unmarshal(raw, &byProduct); err == nil {
		return byProduct["FLUXNET"]
	}
	return ""
}

func igbpOrUnknown(igbp string) string {
	if igbp == "" {
		return "UNK"
	}
	return igbp
}

// Download logs the request to the AmeriFlux tracking endpoint before
// fetching the archive. Tracking failures never fail the download.
func (p *Plugin) Download(ctx context.Context, req plugin.DownloadRequest) (string, error) {
	filename := fluxname.FilenameFromURL(req.DownloadURL)
	if filename != "" {
		if err := p.trackDownload(ctx, []string{filename}, req); err != nil {
			p.log.WithFields(map[string]any{"site_id": req.SiteID}).Error(err, "failed to log download request")
		}
	}

	path, err := p.client.DownloadFile(ctx, req.DownloadURL, req.OutputPath)
	if err != nil {
		return "", errors.NewDownloadError(req.SiteID, p.Name(), err)
	}
	return path, nil
}

func (p *Plugin) trackDownload(ctx context.Context, filenames []string, req plugin.DownloadRequest) error {
	payload := map[string]any{
		"user_id":       shuttleUserID,
		"zip_filenames": filenames,
	}
	if req.UserID != "" {
		payload["user_name"] = req.UserID
	}
	if req.UserEmail != "" {
		payload["user_email"] = req.UserEmail
	}
	if req.IntendedUse != "" {
		payload["intended_use"] = IntendedUseName(req.IntendedUse)
	}
	if req.Description != "" {
		payload["description"] = req.Description
	}

	headers := map[string]string{"Referer": referrerURL}
	return p.client.PostJSON(ctx, p.baseURL+trackingPath, payload, nil, headers)
}
