package models

import (
	"strings"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/params"
)

const (
	// DefaultConnectionName is used when a configuration names no connection.
	DefaultConnectionName = "default"

	// System configuration paths. A successful write through either reloads
	// the matching registry.
	ConfigurationsPath = "/configurations"
	ConnectionsPath    = "/connections"

	// SystemKeywords tags the seeded system configurations.
	SystemKeywords = "system, product:console"
)

// Configuration maps one addressable path to the SQL run for each action.
type Configuration struct {
	Path            string `json:"path"`
	ConnectionName  string `json:"connection_name"`
	QueryStatement  string `json:"query_statement"`
	InsertStatement string `json:"insert_statement"`
	UpdateStatement string `json:"update_statement"`
	DeleteStatement string `json:"delete_statement"`
	Keywords        string `json:"keywords"`
	Cached          bool   `json:"cached"`
}

// NewConfiguration returns a configuration with its path normalized and its
// connection name defaulted.
func NewConfiguration(path, connectionName string) *Configuration {
	c := &Configuration{Path: path, ConnectionName: connectionName}
	c.Normalize()
	return c
}

// NormalizePath prefixes path with "/" when it is missing one.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// Normalize applies the path and connection name defaults in place.
func (c *Configuration) Normalize() {
	c.Path = NormalizePath(c.Path)
	if strings.TrimSpace(c.ConnectionName) == "" {
		c.ConnectionName = DefaultConnectionName
	}
}

// IsQueryable reports whether the configuration has a query template.
func (c *Configuration) IsQueryable() bool {
	return strings.TrimSpace(c.QueryStatement) != ""
}

// IsSystem reports whether the configuration is one of the reserved system paths.
func (c *Configuration) IsSystem() bool {
	return c.IsConfigurationsPath() || c.IsConnectionsPath()
}

// IsConfigurationsPath reports whether writes through c change the configuration table.
func (c *Configuration) IsConfigurationsPath() bool {
	return strings.EqualFold(NormalizePath(c.Path), ConfigurationsPath)
}

// IsConnectionsPath reports whether writes through c change the connection table.
func (c *Configuration) IsConnectionsPath() bool {
	return strings.EqualFold(NormalizePath(c.Path), ConnectionsPath)
}

// Statement returns the template configured for action.
func (c *Configuration) Statement(action Action) string {
	switch action {
	case ActionQuery:
		return c.QueryStatement
	case ActionInsert:
		return c.InsertStatement
	case ActionUpdate:
		return c.UpdateStatement
	case ActionDelete:
		return c.DeleteStatement
	default:
		return ""
	}
}

// HasKeyword reports whether any of the comma-separated tags in filter is
// one of the configuration's keywords. An empty filter or "*" matches every
// configuration, as does a configuration without keywords.
func (c *Configuration) HasKeyword(filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == "*" {
		return true
	}
	if len(splitTags(c.Keywords)) == 0 {
		return true
	}
	return c.hasExactKeyword(filter)
}

// MatchesFilter applies an export filter. "all" and "" select everything, a
// leading "!" selects configurations that do not carry the keyword.
func (c *Configuration) MatchesFilter(filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" || strings.EqualFold(filter, "all") {
		return true
	}
	if negated, ok := strings.CutPrefix(filter, "!"); ok {
		negated = strings.TrimSpace(negated)
		if negated == "" {
			return true
		}
		return !c.hasExactKeyword(negated)
	}
	return c.HasKeyword(filter)
}

// hasExactKeyword is HasKeyword without the "no keywords matches anything" rule.
func (c *Configuration) hasExactKeyword(filter string) bool {
	keywords := splitTags(c.Keywords)
	for _, wanted := range splitTags(filter) {
		for _, keyword := range keywords {
			if strings.EqualFold(wanted, keyword) {
				return true
			}
		}
	}
	return false
}

// SystemParams returns the parameters a write through the /configurations
// system configuration binds, in the order its templates expect. The
// trailing id repeats the path for the update template's WHERE clause.
func (c *Configuration) SystemParams() *params.Ordered {
	return params.FromPairs(
		"connectionName", c.ConnectionName,
		"path", c.Path,
		"querySql", c.QueryStatement,
		"insertSql", c.InsertStatement,
		"updateSql", c.UpdateStatement,
		"deleteSql", c.DeleteStatement,
		"keywords", c.Keywords,
		"id", c.Path,
	)
}

func splitTags(s string) []string {
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
