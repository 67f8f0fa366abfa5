// Package directory resolves named variables and data source resources the
// way an application server directory would: connections of type "jndi"
// name a resource under a context path, and the default connection may be
// described by directory variables.
package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
)

// DefaultContextPath is used when a connection names no context.
const DefaultContextPath = "java:comp/env"

// ErrResourceNotFound is returned when no resource is bound to a name.
var ErrResourceNotFound = fmt.Errorf("%w: directory resource", apperrors.ErrNotFound)

// Resource is a data source bound in the directory.
type Resource struct {
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Provider looks up directory variables and resources.
type Provider interface {
	// Variable returns the value of a directory variable.
	Variable(name string) (string, bool)

	// Resource resolves a named resource under a context path. An empty
	// context path means DefaultContextPath.
	Resource(contextPath, name string) (Resource, error)
}

// Empty is a Provider with nothing bound.
type Empty struct{}

func (Empty) Variable(string) (string, bool) { return "", false }

func (Empty) Resource(contextPath, name string) (Resource, error) {
	return Resource{}, fmt.Errorf("%w: %s/%s", ErrResourceNotFound, normalizeContext(contextPath), name)
}

var _ Provider = Empty{}

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}

func normalizeContext(contextPath string) string {
	contextPath = strings.TrimRight(strings.TrimSpace(contextPath), "/")
	if contextPath == "" {
		return DefaultContextPath
	}
	return contextPath
}
