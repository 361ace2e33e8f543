package prewarm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
)

// Forecast is a set of disruption patterns expected in the near future.
type Forecast struct {
	Version int `yaml:"version"`
	// Weather is the current condition applied to patterns that do not carry
	// their own (rain, storm, snow, clear, ...).
	Weather  string    `yaml:"weather,omitempty"`
	Patterns []Pattern `yaml:"patterns"`
}

// Pattern is one recurring disruption with its base probability and the
// context it is expected to produce.
type Pattern struct {
	Name        string                    `yaml:"name"`
	Probability float64                   `yaml:"probability"`
	Weather     string                    `yaml:"weather,omitempty"`
	Context     schemas.DisruptionContext `yaml:"context"`
}

// ParseForecast decodes and validates a forecast document.
func ParseForecast(r io.Reader) (Forecast, error) {
	var f Forecast
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Forecast{}, errors.New("forecast is empty")
		}
		return Forecast{}, fmt.Errorf("failed to decode forecast: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Forecast{}, err
	}
	return f, nil
}

// LoadForecastFile reads a forecast from disk.
func LoadForecastFile(path string) (Forecast, error) {
	file, err := os.Open(path)
	if err != nil {
		return Forecast{}, fmt.Errorf("failed to open forecast %s: %w", path, err)
	}
	defer file.Close()
	return ParseForecast(file)
}

// Validate checks probabilities and names. Contexts are validated by the
// engine when they are warmed.
func (f Forecast) Validate() error {
	seen := make(map[string]struct{}, len(f.Patterns))
	for i, p := range f.Patterns {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("pattern %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("pattern %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		if p.Probability < 0 || p.Probability > 1 {
			return fmt.Errorf("pattern %q: probability must be between 0.0 and 1.0", name)
		}
	}
	return nil
}
