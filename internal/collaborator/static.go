package collaborator

import (
	"context"
	"strings"
)

// StaticAnalyzer is the zero-configuration IntentAnalyzer: it derives a
// single-task breakdown directly from the intent text instead of calling
// out to a language model. It exists so a fresh deployment can exercise
// the full six-phase run without any collaborator wired in; a real
// deployment replaces it with one backed by an LLM client.
type StaticAnalyzer struct {
	// DefaultCapabilities are the capabilities assigned to the one task a
	// static breakdown produces, when the intent names none explicitly.
	DefaultCapabilities []string
}

func (s *StaticAnalyzer) AnalyzeIntent(ctx context.Context, text string) (*IntentAnalysis, error) {
	return &IntentAnalysis{
		Summary:    strings.TrimSpace(text),
		Entities:   map[string]interface{}{},
		Confidence: 1.0,
	}, nil
}

func (s *StaticAnalyzer) CreateTaskBreakdown(ctx context.Context, analysis *IntentAnalysis) ([]TaskSpec, error) {
	caps := s.DefaultCapabilities
	if len(caps) == 0 {
		caps = []string{"general"}
	}
	return []TaskSpec{
		{
			Name:                 "main",
			Description:          analysis.Summary,
			Priority:             "medium",
			RequiredCapabilities: caps,
		},
	}, nil
}

func (s *StaticAnalyzer) EnhanceProjectSpec(ctx context.Context, spec map[string]interface{}) (map[string]interface{}, error) {
	return spec, nil
}

// PassQualityAssessor always reports a perfect score. It exists for the
// same zero-configuration reason as StaticAnalyzer: a real deployment
// supplies a QualityAssessor that actually inspects execution results.
type PassQualityAssessor struct{}

func (PassQualityAssessor) Assess(ctx context.Context, execResults map[string]interface{}) (*QualityReport, error) {
	return &QualityReport{OverallScore: 1.0, MeetsThreshold: true}, nil
}
