package params

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultBoundary is used when a multipart content type declares no
	// boundary attribute. Parts are then split on their own header name,
	// which only recovers simple bodies.
	DefaultBoundary = "Content-Disposition"

	FileKey            = "file"
	FileNameKey        = "file.name"
	FileContentTypeKey = "file.contenttype"
)

// multipartState is the scanner position within the body.
type multipartState int

const (
	stateSeekBoundary multipartState = iota // looking for the next boundary occurrence
	stateHeaders                            // reading a part's header block
	stateBody                               // reading a part's value
	stateDone
)

// partHeaders is what a part's header block declares.
type partHeaders struct {
	name        string
	fileName    string
	isFile      bool
	contentType string
}

// key returns the parameter name the part is surfaced under, or "" when the
// part is not surfaced. File parts are only surfaced for text content or an
// undeclared content type.
func (h partHeaders) key() string {
	if !h.isFile {
		return h.name
	}
	if h.contentType == "" || hasPrefixFold(h.contentType, "text") {
		return FileKey
	}
	return ""
}

// BoundaryFromContentType returns the boundary attribute of a multipart
// content type, or DefaultBoundary when it is missing.
func BoundaryFromContentType(contentType string) string {
	idx := strings.Index(strings.ToLower(contentType), "boundary=")
	if idx == -1 {
		return DefaultBoundary
	}
	boundary := contentType[idx+len("boundary="):]
	if semi := strings.IndexByte(boundary, ';'); semi != -1 {
		boundary = boundary[:semi]
	}
	boundary = strings.Trim(strings.TrimSpace(boundary), `"`)
	if boundary == "" {
		return DefaultBoundary
	}
	return boundary
}

// parseMultipart scans a multipart/form-data body part by part and appends
// every surfaced field to dst in body order.
func parseMultipart(dst *Ordered, body, contentType string, logger *zap.Logger) {
	boundary := BoundaryFromContentType(contentType)
	logger.Debug("Parsing multipart body", zap.String("boundary", boundary), zap.Int("bytes", len(body)))

	state := stateSeekBoundary
	pos := 0
	var headers partHeaders

	for state != stateDone {
		switch state {
		case stateSeekBoundary:
			idx := strings.Index(body[pos:], boundary)
			if idx == -1 {
				state = stateDone
				continue
			}
			pos += idx + len(boundary)
			if strings.HasPrefix(body[pos:], "--") {
				state = stateDone
				continue
			}
			state = stateHeaders

		case stateHeaders:
			segmentEnd := len(body)
			if next := strings.Index(body[pos:], boundary); next != -1 {
				segmentEnd = pos + next
			}
			headerLen, sepLen := findHeaderEnd(body[pos:segmentEnd])
			if headerLen == -1 {
				logger.Debug("Multipart segment has no header terminator; skipping")
				state = stateSeekBoundary
				continue
			}
			headers = parsePartHeaders(body[pos : pos+headerLen])
			pos += headerLen + sepLen
			state = stateBody

		case stateBody:
			var value string
			next := strings.Index(body[pos:], boundary)
			if next == -1 {
				value = trimLineBreak(body[pos:])
				state = stateDone
			} else {
				value = valueBeforeBoundary(body[pos : pos+next])
				pos += next
				state = stateSeekBoundary
			}
			emitPart(dst, headers, value, logger)
		}
	}
}

func emitPart(dst *Ordered, headers partHeaders, value string, logger *zap.Logger) {
	key := headers.key()
	if key == "" {
		logger.Debug("Multipart part has no usable name; skipping",
			zap.Bool("file", headers.isFile),
			zap.String("content_type", headers.contentType),
		)
		return
	}

	dst.Add(key, value)
	if headers.isFile {
		dst.Add(FileNameKey, headers.fileName)
		dst.Add(FileContentTypeKey, headers.contentType)
	}
}

// findHeaderEnd returns the length of the header block and of the blank
// line that terminates it, or -1 when there is none.
func findHeaderEnd(segment string) (int, int) {
	crlf := strings.Index(segment, "\r\n\r\n")
	lf := strings.Index(segment, "\n\n")
	switch {
	case crlf == -1 && lf == -1:
		return -1, 0
	case lf == -1 || (crlf != -1 && crlf <= lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// valueBeforeBoundary cuts a part value at the last line break before the
// boundary occurrence, which drops the `--` delimiter prefix with it.
func valueBeforeBoundary(segment string) string {
	nl := strings.LastIndexByte(segment, '\n')
	if nl == -1 {
		return segment
	}
	return strings.TrimSuffix(segment[:nl], "\r")
}

func trimLineBreak(s string) string {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	return strings.TrimSuffix(s, "\n")
}

func parsePartHeaders(block string) partHeaders {
	var h partHeaders

	if fileName, ok := quotedAttribute(block, `filename="`, false); ok {
		h.isFile = true
		h.fileName = fileName
	}
	if name, ok := quotedAttribute(block, `name="`, true); ok {
		h.name = name
	}

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if !hasPrefixFold(line, "content-type:") {
			continue
		}
		ct := strings.TrimSpace(line[len("content-type:"):])
		if semi := strings.IndexByte(ct, ';'); semi != -1 {
			ct = strings.TrimSpace(ct[:semi])
		}
		h.contentType = ct
		break
	}

	return h
}

// quotedAttribute finds prefix in block and returns the text up to the next
// double quote. With skipFilename set, occurrences that are the tail of
// `filename="` are ignored.
func quotedAttribute(block, prefix string, skipFilename bool) (string, bool) {
	from := 0
	for {
		idx := strings.Index(block[from:], prefix)
		if idx == -1 {
			return "", false
		}
		idx += from
		if skipFilename && idx >= 4 && block[idx-4:idx] == "file" {
			from = idx + len(prefix)
			continue
		}
		start := idx + len(prefix)
		end := strings.IndexByte(block[start:], '"')
		if end == -1 {
			return "", false
		}
		return block[start : start+end], true
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
