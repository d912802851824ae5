// Package metadata defines the typed metadata record attached to every
// converted session and the layered composer that builds it.
package metadata

import (
	"fmt"
	"regexp"
	"time"
)

// Session holds session-level fields of the output file. Extra is passed
// through to the engine; keys read from the configuration file arrive
// lowercased because viper folds key case.
type Session struct {
	Description         *string           `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Identifier          *string           `json:"identifier,omitempty" yaml:"identifier,omitempty" mapstructure:"identifier"`
	StartTime           *string           `json:"start_time,omitempty" yaml:"start_time,omitempty" mapstructure:"start_time"`
	Experimenter        []string          `json:"experimenter,omitempty" yaml:"experimenter,omitempty" mapstructure:"experimenter"`
	RelatedPublications []string          `json:"related_publications,omitempty" yaml:"related_publications,omitempty" mapstructure:"related_publications"`
	Institution         *string           `json:"institution,omitempty" yaml:"institution,omitempty" mapstructure:"institution"`
	Lab                 *string           `json:"lab,omitempty" yaml:"lab,omitempty" mapstructure:"lab"`
	Keywords            []string          `json:"keywords,omitempty" yaml:"keywords,omitempty" mapstructure:"keywords"`
	Extra               map[string]string `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

// Subject describes the experimental animal. AgeDays is a configuration
// shorthand for Age that Merge turns into an ISO-8601 Age, so a composed
// record never carries it. Extra keys from the configuration file arrive
// lowercased, as for Session.
type Subject struct {
	SubjectID   *string           `json:"subject_id,omitempty" yaml:"subject_id,omitempty" mapstructure:"subject_id"`
	Description *string           `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Species     *string           `json:"species,omitempty" yaml:"species,omitempty" mapstructure:"species"`
	Genotype    *string           `json:"genotype,omitempty" yaml:"genotype,omitempty" mapstructure:"genotype"`
	Sex         *string           `json:"sex,omitempty" yaml:"sex,omitempty" mapstructure:"sex"`
	Weight      *string           `json:"weight,omitempty" yaml:"weight,omitempty" mapstructure:"weight"`
	Age         *string           `json:"age,omitempty" yaml:"age,omitempty" mapstructure:"age"`
	AgeDays     *int              `json:"-" yaml:"-" mapstructure:"age_days"`
	Extra       map[string]string `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

// Device is a recording device, typically a probe. Devices are keyed by Name.
type Device struct {
	Name         string  `json:"name" yaml:"name" mapstructure:"name"`
	Description  *string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Manufacturer *string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty" mapstructure:"manufacturer"`
}

// Record is the metadata for one session. A nil scalar field is absent and
// is omitted when the record is serialized.
type Record struct {
	Session Session  `json:"session" yaml:"session" mapstructure:"session"`
	Subject Subject  `json:"subject" yaml:"subject" mapstructure:"subject"`
	Devices []Device `json:"devices,omitempty" yaml:"devices,omitempty" mapstructure:"devices"`
}

// String returns a pointer to s, for building records in code.
func String(s string) *string {
	return &s
}

// Value returns the string behind p, or "" when the field is absent.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// AgeFromDays formats an age in days as an ISO-8601 duration (e.g. "P90D").
func AgeFromDays(days int) string {
	return fmt.Sprintf("P%dD", days)
}

var isoDuration = regexp.MustCompile(`^P(?:\d+Y)?(?:\d+M)?(?:\d+W)?(?:\d+D)?(?:T(?:\d+H)?(?:\d+M)?(?:\d+(?:\.\d+)?S)?)?$`)

// Validate checks fields that carry a fixed format.
func (r *Record) Validate() error {
	if r.Subject.AgeDays != nil {
		if r.Subject.Age != nil {
			return fmt.Errorf("subject.age and subject.age_days are mutually exclusive")
		}
		if *r.Subject.AgeDays < 0 {
			return fmt.Errorf("subject.age_days must not be negative, got %d", *r.Subject.AgeDays)
		}
	}
	if r.Subject.Age != nil {
		age := *r.Subject.Age
		if age == "P" || age == "PT" || !isoDuration.MatchString(age) {
			return fmt.Errorf("subject.age %q is not an ISO-8601 duration", age)
		}
	}
	if r.Session.StartTime != nil {
		if _, err := time.Parse(time.RFC3339, *r.Session.StartTime); err != nil {
			return fmt.Errorf("session.start_time %q is not RFC 3339: %w", *r.Session.StartTime, err)
		}
	}
	for i, d := range r.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
	}
	return nil
}
