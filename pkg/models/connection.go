package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/params"
)

// Connection types as persisted in the CONNECTIONS table.
const (
	ConnectionTypeDirectory = "jndi" // resolved through the directory provider
	ConnectionTypeDriver    = "jdbc" // opened directly through a registered driver
)

// InternalConnectionName addresses the embedded bootstrap store when the
// default connection was redirected away from it.
const InternalConnectionName = "internal"

// Connection describes how to obtain a pooled database handle.
type Connection struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	ContextPath  string `json:"jndi_context"`
	ResourceName string `json:"jndi_name"`
	Driver       string `json:"jdbc_driver"`
	URL          string `json:"jdbc_url"`
	Username     string `json:"jdbc_username"`
	Password     string `json:"-"`
	Description  string `json:"description"`

	// Internal marks the embedded store provisioned at bootstrap.
	Internal bool `json:"internal"`
}

// IsDirectory reports whether the connection is resolved through the directory provider.
func (c *Connection) IsDirectory() bool {
	return strings.EqualFold(strings.TrimSpace(c.Type), ConnectionTypeDirectory)
}

// Validate returns nil when the connection carries the fields its type needs.
func (c *Connection) Validate() error {
	if c == nil {
		return errors.New("connection is nil")
	}
	if c.IsDirectory() {
		if strings.TrimSpace(c.ResourceName) == "" {
			return fmt.Errorf("connection %q: directory lookup requires a resource name", c.Name)
		}
		return nil
	}

	var missing []string
	if strings.TrimSpace(c.Driver) == "" {
		missing = append(missing, "driver")
	}
	if strings.TrimSpace(c.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("connection %q: missing %s", c.Name, strings.Join(missing, ", "))
	}
	return nil
}

// IsValid is the boolean form of Validate.
func (c *Connection) IsValid() bool {
	return c.Validate() == nil
}

// String describes the connection without its password.
func (c *Connection) String() string {
	if c.IsDirectory() {
		return fmt.Sprintf("name=%s, type=%s, context=%s, resource=%s, description=%s",
			c.Name, c.Type, c.ContextPath, c.ResourceName, c.Description)
	}
	return fmt.Sprintf("name=%s, type=%s, driver=%s, url=%s, username=%s, description=%s",
		c.Name, c.Type, c.Driver, logging.SanitizeConnectionString(c.URL), c.Username, c.Description)
}

// SystemParams returns the parameters a write through the /connections
// system configuration binds, in the order its templates expect.
func (c *Connection) SystemParams() *params.Ordered {
	connType := c.Type
	if connType == "" {
		connType = ConnectionTypeDriver
	}
	return params.FromPairs(
		"name", c.Name,
		"type", connType,
		"driver", c.Driver,
		"url", c.URL,
		"username", c.Username,
		"password", c.Password,
		"jndiName", c.ResourceName,
		"jndiContext", c.ContextPath,
		"description", c.Description,
		"id", c.Name,
	)
}
