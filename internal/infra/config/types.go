package config

import "strings"

// Environment identifies the runtime environment where the gateway operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ArchiveDriver selects the historical fill archive backend.
type ArchiveDriver string

const (
	// ArchiveHTTP reads fills from the public event-history service.
	ArchiveHTTP ArchiveDriver = "http"
	// ArchivePostgres reads fills from the local Postgres archive.
	ArchivePostgres ArchiveDriver = "postgres"
)

func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
