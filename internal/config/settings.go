package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// QueueSettings is deployment policy for the queue core: the concern
// categories on offer, the per-person service estimate, and the timezone
// that defines the daily numbering boundary.
type QueueSettings struct {
	Categories            []string `yaml:"categories"`
	AverageServiceMinutes int      `yaml:"average_service_minutes"`
	Timezone              string   `yaml:"timezone"`
}

func DefaultQueueSettings() QueueSettings {
	return QueueSettings{
		Categories:            []string{"ID", "OJT", "Capstone", "Staff/Admin", "Enrollment", "Other"},
		AverageServiceMinutes: 15,
		Timezone:              "Local",
	}
}

// LoadQueueSettings reads the YAML settings file. A missing file is not
// an error: defaults apply. Partial files inherit defaults per field.
func LoadQueueSettings(path string) (QueueSettings, error) {
	s := DefaultQueueSettings()

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return QueueSettings{}, err
	}

	var loaded QueueSettings
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		return QueueSettings{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(loaded.Categories) > 0 {
		s.Categories = loaded.Categories
	}
	if loaded.AverageServiceMinutes > 0 {
		s.AverageServiceMinutes = loaded.AverageServiceMinutes
	}
	if loaded.Timezone != "" {
		s.Timezone = loaded.Timezone
	}
	return s, nil
}

// Location resolves the configured timezone. "Local" means the host
// timezone; anything else must be an IANA name.
func (s QueueSettings) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}
