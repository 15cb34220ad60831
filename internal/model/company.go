package model

import "time"

// Candidate is a portfolio company discovered by the pipeline but not yet
// persisted. Only Asset is required.
type Candidate struct {
	Asset        string `json:"asset"`
	DateInvested string `json:"dateInvested,omitempty"`
	Sector       string `json:"sector,omitempty"`
	Webpage      string `json:"webpage,omitempty"`
	Note         string `json:"note,omitempty"`
	NextSteps    string `json:"nextSteps,omitempty"`
	Financials   string `json:"financials,omitempty"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status,omitempty"`
	SponsorName  string `json:"sponsorName,omitempty"`
}

// Enrichable field names, as requested from the enrichment provider.
const (
	FieldSector       = "sector"
	FieldWebpage      = "webpage"
	FieldDescription  = "description"
	FieldLocation     = "location"
	FieldDateInvested = "dateInvested"
	FieldStatus       = "status"
)

// EnrichableFields lists every field the enricher may fill in.
func EnrichableFields() []string {
	return []string{
		FieldSector,
		FieldWebpage,
		FieldDescription,
		FieldLocation,
		FieldDateInvested,
		FieldStatus,
	}
}

// MissingFields returns the enrichable fields that are still empty.
func (c Candidate) MissingFields() []string {
	var missing []string
	for _, f := range EnrichableFields() {
		if c.Get(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Get returns the value of an enrichable field by name.
func (c Candidate) Get(field string) string {
	switch field {
	case FieldSector:
		return c.Sector
	case FieldWebpage:
		return c.Webpage
	case FieldDescription:
		return c.Description
	case FieldLocation:
		return c.Location
	case FieldDateInvested:
		return c.DateInvested
	case FieldStatus:
		return c.Status
	}
	return ""
}

// FillMissing copies values from patch into fields that are empty on c.
// Populated fields are never overwritten.
func (c Candidate) FillMissing(patch map[string]string) Candidate {
	set := func(dst *string, key string) {
		if *dst == "" {
			*dst = patch[key]
		}
	}
	set(&c.Sector, FieldSector)
	set(&c.Webpage, FieldWebpage)
	set(&c.Description, FieldDescription)
	set(&c.Location, FieldLocation)
	set(&c.DateInvested, FieldDateInvested)
	set(&c.Status, FieldStatus)
	return c
}

// Sponsor is a private-equity firm that owns a portfolio.
type Sponsor struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// PortfolioCompany is a persisted company belonging to exactly one sponsor.
// Note, NextSteps and Financials are curated by hand and are not part of the
// discovery schema.
type PortfolioCompany struct {
	ID           int64     `json:"id"`
	SponsorID    int64     `json:"sponsorId"`
	Asset        string    `json:"asset"`
	DateInvested string    `json:"dateInvested,omitempty"`
	Sector       string    `json:"sector,omitempty"`
	Webpage      string    `json:"webpage,omitempty"`
	Note         string    `json:"note,omitempty"`
	NextSteps    string    `json:"nextSteps,omitempty"`
	Financials   string    `json:"financials,omitempty"`
	Location     string    `json:"location,omitempty"`
	Description  string    `json:"description,omitempty"`
	Status       string    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CompanyFromCandidate maps a discovered candidate onto a new row. The
// webpage is stored in canonical form.
func CompanyFromCandidate(sponsorID int64, c Candidate) PortfolioCompany {
	return PortfolioCompany{
		SponsorID:    sponsorID,
		Asset:        c.Asset,
		DateInvested: c.DateInvested,
		Sector:       c.Sector,
		Webpage:      CanonicalWebpage(c.Webpage),
		Note:         c.Note,
		NextSteps:    c.NextSteps,
		Financials:   c.Financials,
		Location:     c.Location,
		Description:  c.Description,
		Status:       c.Status,
	}
}

// Comment is a user note attached to a portfolio company.
type Comment struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"companyId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
