// Package plan implements the Task Planner: rule-based template matching
// refined by an optional LLM call, producing a validated task.ExecutionPlan.
//
// Grounded in spec.md §5.5/§7.3's seven-template catalog and the teacher's
// YAML-driven declarative-configuration idiom (kadirpekel-hector/pkg/config
// loads structured config via gopkg.in/yaml.v3 rather than hardcoding it in
// Go) — the template catalog here is a Go literal rather than a YAML file
// only because no deployment-time customization of the catalog is named in
// the spec; DefaultTemplates documents the same shape a YAML-loaded catalog
// would have.
package plan

import (
	"strings"
	"time"

	"github.com/arx88/taskforge/pkg/task"
)

// Template declares one planning strategy's shape: how many steps a
// default plan has, their aggregate duration and complexity, and which
// tools the strategy requires — spec.md §7.3's catalog.
type Template struct {
	Strategy          task.Strategy
	StepCount         int
	EstimatedDuration time.Duration
	Complexity        task.Complexity
	RequiredTools     []string
	// Keywords are the lexical cues used by MatchStrategy to select this
	// template from a task description.
	Keywords []string
}

// DefaultTemplates returns the seven named templates spec.md §7.3 requires.
func DefaultTemplates() []Template {
	return []Template{
		{
			Strategy:          task.StrategyWebDevelopment,
			StepCount:         4,
			EstimatedDuration: 10 * time.Minute,
			Complexity:        task.ComplexityMedium,
			RequiredTools:     []string{"shell", "file_write", "file_read"},
			Keywords:          []string{"website", "web app", "frontend", "backend", "api", "html", "react", "server"},
		},
		{
			Strategy:          task.StrategyDataAnalysis,
			StepCount:         3,
			EstimatedDuration: 8 * time.Minute,
			Complexity:        task.ComplexityMedium,
			RequiredTools:     []string{"file_read", "shell"},
			Keywords:          []string{"analyze", "analysis", "dataset", "statistics", "chart", "report"},
		},
		{
			Strategy:          task.StrategyFileProcessing,
			StepCount:         2,
			EstimatedDuration: 3 * time.Minute,
			Complexity:        task.ComplexityLow,
			RequiredTools:     []string{"file_read", "file_write"},
			Keywords:          []string{"file", "document", "convert", "rename", "move", "copy"},
		},
		{
			Strategy:          task.StrategyAdministration,
			StepCount:         3,
			EstimatedDuration: 5 * time.Minute,
			Complexity:        task.ComplexityLow,
			RequiredTools:     []string{"shell"},
			Keywords:          []string{"install", "configure", "deploy", "system", "service", "monitor"},
		},
		{
			Strategy:          task.StrategyResearch,
			StepCount:         3,
			EstimatedDuration: 12 * time.Minute,
			Complexity:        task.ComplexityMedium,
			RequiredTools:     []string{"web_search", "deep_research"},
			Keywords:          []string{"research", "investigate", "study", "compare", "find information"},
		},
		{
			Strategy:          task.StrategyAutomation,
			StepCount:         4,
			EstimatedDuration: 10 * time.Minute,
			Complexity:        task.ComplexityHigh,
			RequiredTools:     []string{"shell", "file_write"},
			Keywords:          []string{"automate", "script", "schedule", "pipeline", "workflow"},
		},
		{
			Strategy:          task.StrategyGeneral,
			StepCount:         1,
			EstimatedDuration: 2 * time.Minute,
			Complexity:        task.ComplexityLow,
			RequiredTools:     []string{"shell"},
			Keywords:          nil, // catch-all; never matched by keyword, only by fallback
		},
	}
}

// MatchStrategy picks the first template whose keywords appear in the
// (lowercased) description, falling back to StrategyGeneral.
func MatchStrategy(description string, templates []Template) Template {
	lower := strings.ToLower(description)
	for _, tpl := range templates {
		for _, kw := range tpl.Keywords {
			if strings.Contains(lower, kw) {
				return tpl
			}
		}
	}
	for _, tpl := range templates {
		if tpl.Strategy == task.StrategyGeneral {
			return tpl
		}
	}
	return templates[len(templates)-1]
}
