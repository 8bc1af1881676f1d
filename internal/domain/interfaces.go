package domain

import (
	"context"
)

// RubricSearcher is the request/response boundary to the external repertory search service
type RubricSearcher interface {
	SearchRubrics(ctx context.Context, query SearchQuery) ([]Rubric, error)
	GetRubric(ctx context.Context, id string) (*Rubric, error)
	GetRubrics(ctx context.Context, ids []string) ([]Rubric, error)
}

// SearchQuery is a rubric search request
type SearchQuery struct {
	Text      string `json:"q"`
	Repertory string `json:"repertory,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// RubricLibrary persists rubric data fetched from the search service
type RubricLibrary interface {
	SaveRubric(ctx context.Context, rubric *Rubric) error
	GetRubric(ctx context.Context, id string) (*Rubric, error)
	SearchByPath(ctx context.Context, fragment string, limit int) ([]Rubric, error)
}

// ExportSink receives rendered exports. Failures are reported as ErrIO.
type ExportSink interface {
	Write(ctx context.Context, name string, content []byte) (string, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetRepertoryConfig() *RepertoryConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
