package params

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
)

// DefaultMaxBodyBytes caps the body FromRequest reads. Larger bodies are
// rejected with apperrors.ErrBodyTooLarge.
const DefaultMaxBodyBytes int64 = 10 << 20

// Assembler builds ordered parameter maps from request parts.
type Assembler struct {
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewAssembler returns an Assembler. A nil logger disables parse logging.
func NewAssembler(logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		logger:       logger.Named("params"),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Assemble merges the query string and the body into one map. Query string
// parameters come first; body values for an existing key are appended to it.
// Bodies whose content type starts with multipart/form-data are scanned as
// multipart, anything else is decoded as URL-encoded text.
func (a *Assembler) Assemble(rawQuery, contentType string, body []byte) *Ordered {
	result := New()

	parseURLEncoded(result, rawQuery, a.logger)

	if len(body) == 0 {
		return result
	}

	if IsMultipart(contentType) {
		parseMultipart(result, string(body), contentType, a.logger)
	} else {
		parseURLEncoded(result, string(body), a.logger)
	}

	return result
}

// FromRequest reads r's body and assembles its parameters.
func (a *Assembler) FromRequest(r *http.Request) (*Ordered, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, a.maxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if int64(len(body)) > a.maxBodyBytes {
			return nil, fmt.Errorf("%w: limit %d bytes", apperrors.ErrBodyTooLarge, a.maxBodyBytes)
		}
	}
	return a.Assemble(r.URL.RawQuery, r.Header.Get("Content-Type"), body), nil
}

// IsMultipart reports whether a declared content type is multipart/form-data.
func IsMultipart(contentType string) bool {
	return len(contentType) >= len("multipart/form-data") &&
		strings.EqualFold(contentType[:len("multipart/form-data")], "multipart/form-data")
}

// Assemble is a convenience wrapper around a logger-less Assembler.
func Assemble(rawQuery, contentType string, body []byte) *Ordered {
	return NewAssembler(nil).Assemble(rawQuery, contentType, body)
}
