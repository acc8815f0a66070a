package conf

import (
	"errors"
	"fmt"
	"regexp"
)

type SpannerConfig struct {
	Project   string `mapstructure:"project" toml:"project"`
	Instance  string `mapstructure:"instance" toml:"instance"`
	Database  string `mapstructure:"db" toml:"db"`
	TableName string `mapstructure:"table_name" toml:"table_name"`

	// for local test
	CredentialsFile string `mapstructure:"credentials_file" toml:"credentials_file"`
}

var databaseURI = regexp.MustCompile("^projects/([^/]+)/instances/([^/]+)/databases/([^/]+)$")

// ParseSpannerURI reads a "projects/p/instances/i/databases/d" path.
func ParseSpannerURI(uri string) (*SpannerConfig, error) {
	matches := databaseURI.FindStringSubmatch(uri)
	if matches == nil {
		return nil, fmt.Errorf("invalid spanner database %q", uri)
	}
	return &SpannerConfig{Project: matches[1], Instance: matches[2], Database: matches[3]}, nil
}

func (c *SpannerConfig) DatabaseURI() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", c.Project, c.Instance, c.Database)
}

func (c *SpannerConfig) Validate() error {
	if c.Project == "" {
		return errors.New("invalid project")
	}
	if c.Instance == "" {
		return errors.New("invalid instance")
	}
	if c.Database == "" {
		return errors.New("invalid database")
	}
	return nil
}
