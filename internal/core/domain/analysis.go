package domain

import "time"

// ComplexityLevel and MaturityLevel are small closed vocabularies produced
// by the analyzer; stored as plain strings at rest so an unrecognized value
// from a future model version degrades gracefully instead of failing to
// deserialize.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
)

type MaturityLevel string

const (
	MaturityPOC        MaturityLevel = "poc"
	MaturityPrototype  MaturityLevel = "prototype"
	MaturityProduction MaturityLevel = "production"
)

// TechStack groups detected technologies by category. The category set is
// producer-defined (the analyzer prompt decides it); stored as an opaque
// map rather than a fixed struct.
type TechStack map[string][]string

// Recommendation is one actionable suggestion from the analysis.
type Recommendation struct {
	Kind     string `json:"kind"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// EstimatedValue is the analyzer's rough business-value estimate for the
// project; a zero value with Confidence "low" is the documented default
// when the analyzer cannot produce one.
type EstimatedValue struct {
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Confidence string  `json:"confidence"`
}

// Analysis is an immutable record produced by the pipeline for a project.
// It is never mutated after creation; a cache-hit replay creates a new row
// with CacheHit=true rather than touching an existing one.
type Analysis struct {
	ID               string
	ProjectID        string
	Summary          string
	TechStack        TechStack
	Complexity       ComplexityLevel
	Recommendations  []Recommendation
	CompletionScore  int
	MaturityLevel    MaturityLevel
	ProductionGaps   []string
	EstimatedValue   EstimatedValue
	Model            string
	TokensUsed       int
	CacheHit         bool
	CreatedAt        time.Time
}

// FallbackAnalysis is the documented degraded result used when the
// analyzer's response cannot be parsed into structured fields.
func FallbackAnalysis(projectID, model string) Analysis {
	return Analysis{
		ProjectID:  projectID,
		Summary:    "Automated analysis could not be parsed; manual review required.",
		TechStack:  TechStack{},
		Complexity: ComplexityModerate,
		Recommendations: []Recommendation{
			{Kind: "tooling", Priority: "high", Message: "Analyzer response was unparseable; review this project manually."},
		},
		CompletionScore: 0,
		MaturityLevel:   MaturityPOC,
		ProductionGaps:  []string{},
		EstimatedValue:  EstimatedValue{Confidence: "low"},
		Model:           model,
		CreatedAt:       time.Now().UTC(),
	}
}
