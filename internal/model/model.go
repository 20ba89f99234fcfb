// Package model defines the data contracts exchanged between data hub
// plugins, the shuttle orchestrator, and the snapshot writer.
package model

import (
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	// Site IDs follow the BADM convention: country code (or cluster
	// prefix), a dash, then an alphanumeric site code, e.g. "US-Ha1".
	siteIDPattern = regexp.MustCompile(`^[A-Z_]+-[A-Za-z0-9]+$`)
)

// validatorInstance configures and returns the shared validator used for
// metadata records.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("site_id", func(fl validator.FieldLevel) bool {
			return siteIDPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// TeamMember identifies a person associated with a site.
type TeamMember struct {
	Name  string `yaml:"name" json:"name"`
	Role  string `yaml:"role" json:"role"`
	Email string `yaml:"email" json:"email"`
}

// SiteGeneralInfo carries the BADM site general information fields every
// data hub must provide, plus hub attribution.
type SiteGeneralInfo struct {
	SiteID       string       `json:"site_id" validate:"required,max=20,site_id"`
	SiteName     string       `json:"site_name"`
	DataHub      string       `json:"data_hub" validate:"required,max=50"`
	LocationLat  float64      `json:"location_lat" validate:"gte=-90,lte=90"`
	LocationLong float64      `json:"location_long" validate:"gte=-180,lte=180"`
	IGBP         string       `json:"igbp" validate:"required,max=10"`
	Networks     []string     `json:"networks,omitempty"`
	TeamMembers  []TeamMember `json:"team_members,omitempty"`
}

// FluxnetProduct describes one downloadable FLUXNET data product.
type FluxnetProduct struct {
	FirstYear          int    `json:"first_year" validate:"gte=1900,lte=2100"`
	LastYear           int    `json:"last_year" validate:"gte=1900,lte=2100,gtefield=FirstYear"`
	DownloadLink       string `json:"download_link" validate:"required,url"`
	ProductName        string `json:"fluxnet_product_name,omitempty"`
	Citation           string `json:"product_citation,omitempty"`
	ProductID          string `json:"product_id,omitempty"`
	OneFluxCodeVersion string `json:"oneflux_code_version,omitempty"`
	SourceNetwork      string `json:"product_source_network,omitempty"`
}

// DatasetMetadata is the complete record a plugin yields per site product.
type DatasetMetadata struct {
	SiteInfo    SiteGeneralInfo `json:"site_info" validate:"required"`
	ProductData FluxnetProduct  `json:"product_data" validate:"required"`
}

// Validate checks the record against the site and product constraints.
func (m *DatasetMetadata) Validate() error {
	return validatorInstance().Struct(m)
}

// ErrorDetail records a single failure attributed to a data hub operation.
type ErrorDetail struct {
	DataHub   string    `json:"data_hub"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorSummary aggregates the failures and successes of one discovery run.
type ErrorSummary struct {
	TotalErrors  int           `json:"total_errors"`
	TotalResults int           `json:"total_results"`
	Errors       []ErrorDetail `json:"errors"`
}
