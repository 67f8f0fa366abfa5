package directory

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the on-disk layout of a directory file.
type document struct {
	Variables map[string]string              `yaml:"variables"`
	Contexts  map[string]map[string]Resource `yaml:"contexts"`
}

// FileProvider serves variables and resources from a YAML document:
//
//	variables:
//	  dsc_type: jdbc
//	contexts:
//	  "java:comp/env":
//	    jdbc/main: {driver: postgres, url: "postgres://db/app", username: app, password: secret}
type FileProvider struct {
	variables map[string]string
	contexts  map[string]map[string]Resource
}

// Load returns the Provider for path. An empty path yields Empty.
func Load(path string) (Provider, error) {
	if path == "" {
		return Empty{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads and parses a directory file.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a FileProvider from YAML bytes. Variable names are matched
// case-insensitively.
func Parse(data []byte) (*FileProvider, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("directory: parse: %w", err)
	}

	p := &FileProvider{
		variables: make(map[string]string, len(doc.Variables)),
		contexts:  make(map[string]map[string]Resource, len(doc.Contexts)),
	}
	for name, value := range doc.Variables {
		p.variables[strings.ToLower(name)] = value
	}
	for ctxPath, resources := range doc.Contexts {
		p.contexts[normalizeContext(ctxPath)] = resources
	}
	return p, nil
}

func (p *FileProvider) Variable(name string) (string, bool) {
	v, ok := p.variables[strings.ToLower(name)]
	return v, ok
}

func (p *FileProvider) Resource(contextPath, name string) (Resource, error) {
	ctxPath := normalizeContext(contextPath)
	if res, ok := p.contexts[ctxPath][name]; ok {
		return res, nil
	}
	return Resource{}, fmt.Errorf("%w: %s/%s", ErrResourceNotFound, ctxPath, name)
}

var _ Provider = (*FileProvider)(nil)
