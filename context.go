package domaincache

import (
	"encoding/json"
	"strings"
)

// ContextFieldCount is the number of tracked business profile fields.
// ExtractionConfidence is bookkeeping, not a tracked field.
const ContextFieldCount = 37

// DomainContext is the per-domain business profile. All fields are
// optional; completeness is measured by FilledCount over the tracked
// fields below.
type DomainContext struct {
	Domain string `json:"domain,omitempty"`

	// Identity
	BusinessName     string `json:"business_name,omitempty"`
	LegalName        string `json:"legal_name,omitempty"`
	Tagline          string `json:"tagline,omitempty"`
	Description      string `json:"description,omitempty"`
	MissionStatement string `json:"mission_statement,omitempty"`
	Industry         string `json:"industry,omitempty"`
	Niche            string `json:"niche,omitempty"`
	BusinessType     string `json:"business_type,omitempty"`
	FoundedYear      *int   `json:"founded_year,omitempty"`
	EmployeeCount    *int   `json:"employee_count,omitempty"`

	// Offering
	Products            []string `json:"products,omitempty"`
	Services            []string `json:"services,omitempty"`
	UniqueSellingPoints []string `json:"unique_selling_points,omitempty"`
	PriceRange          string   `json:"price_range,omitempty"`

	// Audience
	TargetAudience  string   `json:"target_audience,omitempty"`
	TargetLocations []string `json:"target_locations,omitempty"`
	Languages       []string `json:"languages,omitempty"`

	// Contact
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	City         string `json:"city,omitempty"`
	Region       string `json:"region,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
	OpeningHours string `json:"opening_hours,omitempty"`

	// Web presence
	GoogleBusinessProfileURL string `json:"google_business_profile_url,omitempty"`
	SocialFacebook           string `json:"social_facebook,omitempty"`
	SocialInstagram          string `json:"social_instagram,omitempty"`
	SocialLinkedIn           string `json:"social_linkedin,omitempty"`
	SocialX                  string `json:"social_x,omitempty"`
	SocialYouTube            string `json:"social_youtube,omitempty"`

	// Marketing
	BrandTone         string   `json:"brand_tone,omitempty"`
	BrandKeywords     []string `json:"brand_keywords,omitempty"`
	SeedKeywords      []string `json:"seed_keywords,omitempty"`
	ExcludedKeywords  []string `json:"excluded_keywords,omitempty"`
	CompetitorDomains []string `json:"competitor_domains,omitempty"`
	MonthlyAdBudget   *float64 `json:"monthly_ad_budget,omitempty"`

	// ExtractionConfidence maps field names to the extractor's confidence
	// for auto-filled values.
	ExtractionConfidence map[string]float64 `json:"extraction_confidence,omitempty"`
}

// FilledCount reports how many of the tracked fields hold a value. Always
// recomputed from the current record, never cached.
func (c *DomainContext) FilledCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, filled := range c.fieldStates() {
		if filled {
			n++
		}
	}
	return n
}

// ProgressPercent is FilledCount over the tracked field count, 0..100.
func (c *DomainContext) ProgressPercent() float64 {
	return float64(c.FilledCount()) / float64(ContextFieldCount) * 100
}

// IsEmpty reports whether no tracked field holds a value.
func (c *DomainContext) IsEmpty() bool {
	return c.FilledCount() == 0
}

// Merge applies the set fields of partial on top of c, JSON merge
// semantics: keys absent from partial leave c untouched. Returns an error
// only on serialization failure.
func (c *DomainContext) Merge(partial *DomainContext) error {
	if partial == nil {
		return nil
	}
	raw, err := json.Marshal(partial)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, c)
}

// Clone returns a deep copy of the record.
func (c *DomainContext) Clone() *DomainContext {
	if c == nil {
		return nil
	}
	out := &DomainContext{}
	raw, err := json.Marshal(c)
	if err != nil {
		return &DomainContext{Domain: c.Domain}
	}
	_ = json.Unmarshal(raw, out)
	return out
}

func (c *DomainContext) fieldStates() [ContextFieldCount]bool {
	return [ContextFieldCount]bool{
		hasString(c.BusinessName),
		hasString(c.LegalName),
		hasString(c.Tagline),
		hasString(c.Description),
		hasString(c.MissionStatement),
		hasString(c.Industry),
		hasString(c.Niche),
		hasString(c.BusinessType),
		c.FoundedYear != nil,
		c.EmployeeCount != nil,
		hasList(c.Products),
		hasList(c.Services),
		hasList(c.UniqueSellingPoints),
		hasString(c.PriceRange),
		hasString(c.TargetAudience),
		hasList(c.TargetLocations),
		hasList(c.Languages),
		hasString(c.Email),
		hasString(c.Phone),
		hasString(c.Address),
		hasString(c.City),
		hasString(c.Region),
		hasString(c.PostalCode),
		hasString(c.Country),
		hasString(c.OpeningHours),
		hasString(c.GoogleBusinessProfileURL),
		hasString(c.SocialFacebook),
		hasString(c.SocialInstagram),
		hasString(c.SocialLinkedIn),
		hasString(c.SocialX),
		hasString(c.SocialYouTube),
		hasString(c.BrandTone),
		hasList(c.BrandKeywords),
		hasList(c.SeedKeywords),
		hasList(c.ExcludedKeywords),
		hasList(c.CompetitorDomains),
		c.MonthlyAdBudget != nil,
	}
}

func hasString(s string) bool {
	return strings.TrimSpace(s) != ""
}

func hasList(l []string) bool {
	return len(l) > 0
}
