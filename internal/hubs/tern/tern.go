// Package tern implements the TERN (Terrestrial Ecosystem Research
// Network) data hub plugin. TERN publishes site metadata as a BADM
// Interchange Format (BIF) CSV and product links as a THREDDS catalogue
// CSV; the plugin joins the two.
package tern

import (
	"context"
	"encoding/csv"
	"fmt"
	"sort"
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
	// DefaultBaseURL is the TERN THREDDS file server root for FLUXNET data.
	DefaultBaseURL = "https://dap.tern.org.au/thredds/fileServer/ecosystem_process/fluxnet/"

	// DefaultBIFURL serves BADM site metadata for every TERN site.
	DefaultBIFURL = DefaultBaseURL + "BIF_all_sites.csv"

	// DefaultCatalogueURL serves the FLUXNET product catalogue.
	DefaultCatalogueURL = DefaultBaseURL + "TERN_THREDDS_catalogue.csv"
)

// bifColumns is the required BIF header.
var bifColumns = []string{"SITE_ID", "GROUP_ID", "VARIABLE_GROUP", "VARIABLE", "DATAVALUE"}

// Plugin is the TERN data hub plugin.
type Plugin struct {
	bifURL       string
	catalogueURL string
	client       *hubs.Client
	log          *logger.Logger
}

// Factory returns a plugin.Factory for the registry. The config keys
// "bif_url" and "catalogue_url" override the metadata endpoints.
func Factory(log *logger.Logger) plugin.Factory {
	return func(config map[string]any) (plugin.Plugin, error) {
		return &Plugin{
			bifURL:       hubs.ConfigString(config, "bif_url", DefaultBIFURL),
			catalogueURL: hubs.ConfigString(config, "catalogue_url", DefaultCatalogueURL),
			client:       hubs.NewClientWithLimit("tern", hubs.ConfigInt(config, "parallel_requests", 0), log),
			log:          log,
		}, nil
	}
}

func (p *Plugin) Name() string        { return "tern" }
func (p *Plugin) DisplayName() string { return "TERN" }

// siteMetadata is the BADM site information assembled from BIF rows.
type siteMetadata struct {
	siteName    string
	lat, long   float64
	igbp        string
	networks    []string
	teamMembers []model.TeamMember
}

// catalogueProduct is one row of the THREDDS product catalogue.
type catalogueProduct struct {
	url      string
	id       string
	citation string
}

// Sites streams TERN sites present in both the BIF metadata and the
// product catalogue. For each site the latest product version wins;
// sites with no valid product or no citation are skipped.
func (p *Plugin) Sites(ctx context.Context, filters plugin.Filters) *stream.Stream[model.DatasetMetadata] {
	return stream.New(func(ctx context.Context, yield func(model.DatasetMetadata) error) error {
		bifContent, err := p.client.GetText(ctx, p.bifURL)
		if err != nil {
			return err
		}
		sites, err := parseBIF(bifContent, p.log)
		if err != nil {
			return errors.NewPluginError("tern", err)
		}

		catalogueContent, err := p.client.GetText(ctx, p.catalogueURL)
		if err != nil {
			return err
		}
		products, err := parseCatalogue(catalogueContent)
		if err != nil {
			return errors.NewPluginError("tern", err)
		}

		common := commonSites(sites, products)
		if len(common) == 0 {
			p.log.Warn("no TERN sites found with both BIF and product metadata")
			return nil
		}

		for _, siteID := range common {
			record, ok := p.assemble(siteID, sites[siteID], products[siteID])
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

func commonSites(sites map[string]*siteMetadata, products map[string][]catalogueProduct) []string {
	var common []string
	for siteID := range sites {
		if _, ok := products[siteID]; ok {
			common = append(common, siteID)
		}
	}
	sort.Strings(common)
	return common
}

// parseBIF parses the BADM Interchange Format CSV. Rows carry one
// variable each; the GROUP_ID ties together the rows of one logical
// element, unique only within a site.
func parseBIF(content string, log *logger.Logger) (map[string]*siteMetadata, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewParseError("BIF_all_sites.csv", 0, err)
	}
	if len(rows) == 0 || !sameColumns(rows[0], bifColumns) {
		return nil, errors.NewParseError("BIF_all_sites.csv", 1,
			fmt.Errorf("unexpected header, want %s", strings.Join(bifColumns, ",")))
	}

	// site -> group key -> variable group -> ordered variable/value pairs.
	type kv struct{ variable, value string }
	grouped := make(map[string]map[string]map[string][]kv)
	var siteOrder []string

	for _, row := range rows[1:] {
		if len(row) < len(bifColumns) {
			continue
		}
		siteID, groupID, variableGroup := row[0], row[1], row[2]
		variable, value := row[3], row[4]

		// GROUP_IDs repeat across sites, so key groups per site.
		groupKey := siteID + "_" + groupID

		site, ok := grouped[siteID]
		if !ok {
			site = make(map[string]map[string][]kv)
			grouped[siteID] = site
			siteOrder = append(siteOrder, siteID)
		}
		group, ok := site[groupKey]
		if !ok {
			group = make(map[string][]kv)
			site[groupKey] = group
		}
		group[variableGroup] = append(group[variableGroup], kv{variable, value})
	}

	sites := make(map[string]*siteMetadata, len(grouped))
	for _, siteID := range siteOrder {
		meta := &siteMetadata{igbp: "UNK"}

		groupKeys := make([]string, 0, len(grouped[siteID]))
		for key := range grouped[siteID] {
			groupKeys = append(groupKeys, key)
		}
		sort.Strings(groupKeys)

		for _, groupKey := range groupKeys {
			group := grouped[siteID][groupKey]

			for _, item := range group["HEADER"] {
				if item.variable == "SITE_NAME" {
					meta.siteName = item.value
				}
			}
			for _, item := range group["LOCATION"] {
				switch item.variable {
				case "LOCATION_LAT":
					if lat, err := strconv.ParseFloat(item.value, 64); err == nil {
						meta.lat = lat
					} else {
						log.WithFields(map[string]any{"site_id": siteID}).Warn("invalid latitude: " + item.value)
					}
				case "LOCATION_LONG":
					if long, err := strconv.ParseFloat(item.value, 64); err == nil {
						meta.long = long
					} else {
						log.WithFields(map[string]any{"site_id": siteID}).Warn("invalid longitude: " + item.value)
					}
				}
			}
			for _, item := range group["IGBP"] {
				if item.variable == "IGBP" && item.value != "" {
					meta.igbp = item.value
				}
			}
			for _, item := range group["NETWORK"] {
				if item.variable == "NETWORK" && item.value != "" && !contains(meta.networks, item.value) {
					meta.networks = append(meta.networks, item.value)
				}
			}

			// A TEAM_MEMBER group may carry several members; each
			// TEAM_MEMBER_NAME row starts a new one.
			var current *model.TeamMember
			for _, item := range group["TEAM_MEMBER"] {
				switch item.variable {
				case "TEAM_MEMBER_NAME":
					if current != nil && current.Name != "" {
						meta.teamMembers = append(meta.teamMembers, *current)
					}
					current = &model.TeamMember{Name: item.value}
				case "TEAM_MEMBER_ROLE":
					if current != nil {
						current.Role = item.value
					}
				case "TEAM_MEMBER_EMAIL":
					if current != nil {
						current.Email = item.value
					}
				}
			}
			if current != nil && current.Name != "" {
				meta.teamMembers = append(meta.teamMembers, *current)
			}
		}

		sites[siteID] = meta
	}
	return sites, nil
}

func sameColumns(header, want []string) bool {
	if len(header) != len(want) {
		return false
	}
	seen := make(map[string]bool, len(header))
	for _, column := range header {
		seen[strings.TrimSpace(column)] = true
	}
	for _, column := range want {
		if !seen[column] {
			return false
		}
	}
	return true
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// parseCatalogue parses the product catalogue CSV, grouping products by
// site. Rows missing a site ID or URL are dropped.
func parseCatalogue(content string) (map[string][]catalogueProduct, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewParseError("TERN_THREDDS_catalogue.csv", 0, err)
	}
	if len(rows) == 0 {
		return map[string][]catalogueProduct{}, nil
	}

	index := make(map[string]int, len(rows[0]))
	for i, column := range rows[0] {
		index[strings.TrimSpace(column)] = i
	}
	field := func(row []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	products := make(map[string][]catalogueProduct)
	for _, row := range rows[1:] {
		siteID := field(row, "SITE_ID")
		productURL := field(row, "PRODUCT_URL")
		if siteID == "" || productURL == "" {
			continue
		}
		products[siteID] = append(products[siteID], catalogueProduct{
			url:      productURL,
			id:       field(row, "PRODUCT_ID"),
			citation: field(row, "PRODUCT_CITATION"),
		})
	}
	return products, nil
}

// selectLatest picks the product with the highest version, breaking ties
// on run number. Products whose filenames do not follow the FLUXNET
// archive pattern are ignored.
func selectLatest(products []catalogueProduct) (catalogueProduct, fluxname.Metadata, bool) {
	var (
		best     catalogueProduct
		bestMeta fluxname.Metadata
		found    bool
	)
	for _, product := range products {
		meta, ok := fluxname.Parse(product.url)
		if !ok {
			continue
		}
		if !found || meta.Newer(bestMeta) {
			best, bestMeta, found = product, meta, true
		}
	}
	return best, bestMeta, found
}

func (p *Plugin) assemble(siteID string, site *siteMetadata, products []catalogueProduct) (model.DatasetMetadata, bool) {
	log := p.log.WithFields(map[string]any{"site_id": siteID})

	product, meta, ok := selectLatest(products)
	if !ok {
		log.Debug("skipping site: no product with a valid FLUXNET archive name")
		return model.DatasetMetadata{}, false
	}

	if product.citation == "" {
		log.Warn("skipping site: no citation available, contact TERN support")
		return model.DatasetMetadata{}, false
	}

	record := model.DatasetMetadata{
		SiteInfo: model.SiteGeneralInfo{
			SiteID:       siteID,
			SiteName:     site.siteName,
			DataHub:      "TERN",
			LocationLat:  site.lat,
			LocationLong: site.long,
			IGBP:         site.igbp,
			Networks:     site.networks,
			TeamMembers:  site.teamMembers,
		},
		ProductData: model.FluxnetProduct{
			FirstYear:          meta.FirstYear,
			LastYear:           meta.LastYear,
			DownloadLink:       product.url,
			ProductName:        fluxname.FilenameFromURL(product.url),
			Citation:           product.citation,
			ProductID:          product.id,
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
