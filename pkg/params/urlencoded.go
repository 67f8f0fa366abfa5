package params

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// parseURLEncoded decodes an application/x-www-form-urlencoded string into
// dst. Malformed segments are skipped and undecodable values become "".
func parseURLEncoded(dst *Ordered, encoded string, logger *zap.Logger) {
	if encoded == "" {
		return
	}

	for _, segment := range strings.Split(encoded, "&") {
		eq := strings.IndexByte(segment, '=')
		switch {
		case eq == -1:
			logger.Debug("Skipping parameter without '='", zap.String("segment", segment))
			continue
		case eq == 0:
			logger.Debug("Skipping parameter without key", zap.String("segment", segment))
			continue
		}

		key, err := url.QueryUnescape(segment[:eq])
		if err != nil || key == "" {
			logger.Debug("Skipping parameter with undecodable key",
				zap.String("segment", segment),
				zap.Error(err),
			)
			continue
		}

		value := ""
		if raw := segment[eq+1:]; raw != "" {
			if value, err = url.QueryUnescape(raw); err != nil {
				logger.Debug("Parameter value could not be decoded; using empty value",
					zap.String("key", key),
					zap.Error(err),
				)
				value = ""
			}
		}

		dst.Add(key, value)
	}
}
