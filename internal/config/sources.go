package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cprunner/park-events-etl/internal/domain"
)

// Source adapter types.
const (
	SourceOpenData = "opendata"
	SourceParks    = "parks"
	SourceRaceCal  = "racecal"
	SourceLLM      = "llm"
)

// SourceSpec describes one upstream source in the crawl.
type SourceSpec struct {
	Type   string        `yaml:"type"`
	Name   string        `yaml:"name"`
	URL    string        `yaml:"url"`
	Policy domain.Policy `yaml:"policy"`

	// Static fetches the page without the headless browser.
	Static bool `yaml:"static"`
	// DetailLinks enriches LLM prompts with "learn more" pages.
	DetailLinks bool `yaml:"detail_links"`
	MaxPages    int  `yaml:"max_pages"`
	Disabled    bool `yaml:"disabled"`
}

type sourcesFile struct {
	Sources []SourceSpec `yaml:"sources"`
}

// DefaultSources is the built-in crawl list used when SOURCES_FILE is unset.
// None of them fetch detail pages; configs/sources.example.yaml shows the
// same list plus an LLM source with detail_links enabled.
func DefaultSources() []SourceSpec {
	return []SourceSpec{
		{
			Type:   SourceOpenData,
			Name:   "nyc-open-data",
			Policy: domain.PolicyLocation,
		},
		{
			Type:     SourceParks,
			Name:     "nyc-parks",
			URL:      "https://www.nycgovparks.org/parks/central-park/events",
			Policy:   domain.PolicyRunningOrLarge,
			MaxPages: 3,
		},
		{
			Type:   SourceRaceCal,
			Name:   "nyrr",
			URL:    "https://www.nyrr.org/run/race-calendar",
			Policy: domain.PolicyLocation,
		},
		{
			Type:   SourceLLM,
			Name:   "nycruns",
			URL:    "https://nycruns.com/races",
			Policy: domain.PolicyParkLocation,
		},
	}
}

// LoadSources reads a YAML sources file of the form:
//
//	sources:
//	  - type: llm
//	    name: nyrr-llm
//	    url: https://www.nyrr.org/run/race-calendar
//	    policy: park-race
//	    detail_links: true
func LoadSources(path string) ([]SourceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, errors.New("sources file lists no sources")
	}

	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		if err := s.normalize(); err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("source %d: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return f.Sources, nil
}

func (s *SourceSpec) normalize() error {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)

	switch s.Type {
	case SourceOpenData, SourceParks, SourceRaceCal, SourceLLM:
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}
	if s.Name == "" {
		s.Name = s.Type
	}
	if s.URL == "" && s.Type != SourceOpenData {
		return fmt.Errorf("%s: url is required", s.Name)
	}

	if s.Policy == "" {
		s.Policy = domain.PolicyLocation
	}
	p, err := domain.ParsePolicy(string(s.Policy))
	if err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	s.Policy = p

	if s.MaxPages <= 0 {
		s.MaxPages = 1
		if s.Type == SourceParks {
			s.MaxPages = 3
		}
	}
	return nil
}

// Enabled returns the sources that are not disabled.
func (c *Config) Enabled() []SourceSpec {
	out := make([]SourceSpec, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Disabled {
			continue
		}
		if s.Type == SourceOpenData && !c.OpenDataEnabled {
			continue
		}
		out = append(out, s)
	}
	return out
}
