// Package icos implements the ICOS Carbon Portal data hub plugin on top
// of the portal's SPARQL endpoint.
package icos

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/amf-flx/fluxnet-shuttle/internal/fluxname"
	"github.com/amf-flx/fluxnet-shuttle/internal/hubs"
	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/plugin"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
)

// DefaultEndpoint is the ICOS Carbon Portal SPARQL endpoint.
const DefaultEndpoint = "https://meta.icos-cp.eu/sparql"

// sparqlQuery selects every FLUXNET archive product together with its
// station, coordinates, ecosystem type, citation, and team members,
// excluding superseded object versions.
const sparqlQuery = `
prefix cpmeta: <http://meta.icos-cp.eu/ontologies/cpmeta/>
prefix prov: <http://www.w3.org/ns/prov#>
prefix xsd: <http://www.w3.org/2001/XMLSchema#>
prefix geo: <http://www.opengis.net/ont/geosparql#>
prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#>
select ?dobj ?hasNextVersion ?spec ?station ?stationName ?fileName ?size ?submTime
       ?timeStart ?timeEnd ?lat ?lon ?ecosystemType ?citationString
       ?firstName ?lastName ?email ?roleName ?orgName
where {
    VALUES ?spec {<http://meta.icos-cp.eu/resources/cpmeta/miscFluxnetArchiveProduct>}
    ?dobj cpmeta:hasObjectSpec ?spec .
    BIND(EXISTS{[] cpmeta:isNextVersionOf ?dobj} AS ?hasNextVersion)
    ?dobj cpmeta:wasAcquiredBy/prov:wasAssociatedWith ?station .
    ?dobj cpmeta:hasSizeInBytes ?size .
    ?dobj cpmeta:hasName ?fileName .
    ?dobj cpmeta:wasSubmittedBy/prov:endedAtTime ?submTime .
    ?dobj cpmeta:hasStartTime | (cpmeta:wasAcquiredBy / prov:startedAtTime) ?timeStart .
    ?dobj cpmeta:hasEndTime | (cpmeta:wasAcquiredBy / prov:endedAtTime) ?timeEnd .

    OPTIONAL {
        ?station cpmeta:hasName ?stationName .
    }

    OPTIONAL {
        ?station cpmeta:hasLatitude ?lat .
        ?station cpmeta:hasLongitude ?lon .
    }

    OPTIONAL {
        ?station cpmeta:hasEcosystemType ?ecosystemType .
    }

    OPTIONAL {
        ?dobj cpmeta:hasCitationString ?citationString .
    }

    OPTIONAL {
        ?membership cpmeta:atOrganization ?station .
        ?person cpmeta:hasMembership ?membership .
        OPTIONAL { ?person cpmeta:hasFirstName ?firstName . }
        OPTIONAL { ?person cpmeta:hasLastName ?lastName . }
        OPTIONAL { ?person cpmeta:hasEmail ?email . }
        OPTIONAL {
            ?membership cpmeta:hasRole ?role .
            ?role rdfs:label ?roleName .
        }
        OPTIONAL {
            ?membership cpmeta:hasAttributingOrganization ?org .
            ?org cpmeta:hasName ?orgName .
        }
    }

    FILTER NOT EXISTS {[] cpmeta:isNextVersionOf ?dobj}
}
order by desc(?fileName)
`

// Plugin is the ICOS Carbon Portal data hub plugin.
type Plugin struct {
	endpoint string
	client   *hubs.Client
	log      *logger.Logger
}

// Factory returns a plugin.Factory for the registry. The config key
// "api_url" overrides the SPARQL endpoint.
func Factory(log *logger.Logger) plugin.Factory {
	return func(config map[string]any) (plugin.Plugin, error) {
		return &Plugin{
			endpoint: hubs.ConfigString(config, "api_url", DefaultEndpoint),
			client:   hubs.NewClientWithLimit("icos", hubs.ConfigInt(config, "parallel_requests", 0), log),
			log:      log,
		}, nil
	}
}

func (p *Plugin) Name() string        { return "icos" }
func (p *Plugin) DisplayName() string { return "ICOS" }

type binding map[string]struct {
	Value string `json:"value"`
}

func (b binding) value(key string) string {
	return b[key].Value
}

type sparqlResponse struct {
	Results struct {
		Bindings []binding `json:"bindings"`
	} `json:"results"`
}

// archiveProduct accumulates the bindings for one data object.
type archiveProduct struct {
	stationID   string
	stationName string
	timeStart   string
	timeEnd     string
	lat         string
	lon         string
	ecosystem   string
	citation    string
	filename    string
	objectURI   string
	teamMembers []model.TeamMember
	seenMembers map[string]struct{}
}

// Sites streams ICOS stations carrying FLUXNET archive products. Sites
// with malformed archive names or no citation are skipped.
func (p *Plugin) Sites(ctx context.Context, filters plugin.Filters) *stream.Stream[model.DatasetMetadata] {
	return stream.New(func(ctx context.Context, yield func(model.DatasetMetadata) error) error {
		var response sparqlResponse
		form := url.Values{"query": {sparqlQuery}}
		if err := p.client.PostForm(ctx, p.endpoint, form, &response); err != nil {
			return err
		}

		for _, product := range p.groupBindings(response.Results.Bindings) {
			record, ok := p.assemble(product)
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

// groupBindings folds one binding row per team member into a single
// product per data object, ordered by object URI for determinism.
func (p *Plugin) groupBindings(bindings []binding) []*archiveProduct {
	byObject := make(map[string]*archiveProduct)
	var order []string

	for _, b := range bindings {
		objectURI := b.value("dobj")
		if objectURI == "" {
			continue
		}

		product, seen := byObject[objectURI]
		if !seen {
			product = &archiveProduct{
				stationID:   stationID(b.value("station")),
				stationName: b.value("stationName"),
				timeStart:   b.value("timeStart"),
				timeEnd:     b.value("timeEnd"),
				lat:         b.value("lat"),
				lon:         b.value("lon"),
				ecosystem:   b.value("ecosystemType"),
				citation:    b.value("citationString"),
				filename:    b.value("fileName"),
				objectURI:   objectURI,
				seenMembers: make(map[string]struct{}),
			}
			if product.stationName == "" {
				product.stationName = product.stationID
			}
			byObject[objectURI] = product
			order = append(order, objectURI)
		}

		if member, ok := teamMember(b); ok {
			key := member.Name + "|" + member.Role + "|" + member.Email
			if _, dup := product.seenMembers[key]; !dup {
				product.seenMembers[key] = struct{}{}
				product.teamMembers = append(product.teamMembers, member)
			}
		}
	}

	sort.Strings(order)
	products := make([]*archiveProduct, 0, len(order))
	for _, objectURI := range order {
		products = append(products, byObject[objectURI])
	}
	return products
}

// stationID derives the site code from a station URI: the last six
// characters of the URI, then the final path segment of those.
func stationID(stationURI string) string {
	tail := stationURI
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	segments := strings.Split(tail, "/")
	return segments[len(segments)-1]
}

func teamMember(b binding) (model.TeamMember, bool) {
	firstName := b.value("firstName")
	lastName := b.value("lastName")
	fullName := strings.TrimSpace(firstName + " " + lastName)
	if fullName == "" {
		return model.TeamMember{}, false
	}
	return model.TeamMember{
		Name:  fullName,
		Role:  b.value("roleName"),
		Email: b.value("email"),
	}, true
}

func (p *Plugin) assemble(product *archiveProduct) (model.DatasetMetadata, bool) {
	log := p.log.WithFields(map[string]any{"site_id": product.stationID})

	meta, ok := fluxname.Parse(product.filename)
	if !ok {
		log.Info("skipping site: archive filename does not follow the FLUXNET pattern")
		return model.DatasetMetadata{}, false
	}

	if product.citation == "" {
		log.Warn("skipping site: no citation available, contact support@fluxnet.org")
		return model.DatasetMetadata{}, false
	}

	objectID := lastSegment(product.objectURI)
	downloadLink := fmt.Sprintf("https://data.icos-cp.eu/licence_accept?ids=%%5B%%22%s%%22%%5D", objectID)

	record := model.DatasetMetadata{
		SiteInfo: model.SiteGeneralInfo{
			SiteID:       product.stationID,
			SiteName:     product.stationName,
			DataHub:      "ICOS",
			LocationLat:  parseCoordinate(product.lat),
			LocationLong: parseCoordinate(product.lon),
			IGBP:         ecosystemToIGBP(product.ecosystem),
			TeamMembers:  product.teamMembers,
		},
		ProductData: model.FluxnetProduct{
			FirstYear:          yearOrDefault(product.timeStart, 2000),
			LastYear:           yearOrDefault(product.timeEnd, 2020),
			DownloadLink:       downloadLink,
			ProductName:        product.filename,
			Citation:           product.citation,
			ProductID:          objectID,
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

func lastSegment(uri string) string {
	segments := strings.Split(uri, "/")
	return segments[len(segments)-1]
}

func parseCoordinate(value string) float64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// yearOrDefault extracts the year from an ISO timestamp prefix.
func yearOrDefault(timestamp string, fallback int) int {
	if len(timestamp) < 4 {
		return fallback
	}
	year, err := strconv.Atoi(timestamp[:4])
	if err != nil {
		return fallback
	}
	return year
}

// ecosystemToIGBP maps an ICOS ecosystem-type URI of the form
// .../igbp_XXX to the IGBP code XXX.
func ecosystemToIGBP(ecosystem string) string {
	if ecosystem == "" {
		return "UNK"
	}
	if idx := strings.LastIndex(ecosystem, "/"); idx >= 0 {
		ecosystem = ecosystem[idx+1:]
	}
	if strings.HasPrefix(ecosystem, "igbp_") {
		return strings.ToUpper(strings.TrimPrefix(ecosystem, "igbp_"))
	}
	return "UNK"
}
