package flow

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// The HTTP surface carries the optimistic-concurrency token in weak ETags:
// responses expose the case version as ETag W/"n", and writes may supply the
// expected version via If-Match instead of the request body.

// SetVersionHeaders sets ETag and Last-Modified on the response.
func SetVersionHeaders(c echo.Context, version int, lastModified string) {
	c.Response().Header().Set("ETag", FormatETag(version))
	if lastModified != "" {
		c.Response().Header().Set("Last-Modified", lastModified)
	}
}

// FormatETag creates a weak ETag from a case version.
func FormatETag(version int) string {
	return fmt.Sprintf(`W/"%d"`, version)
}

// ParseETag extracts the version number from an ETag value like W/"3" or "3".
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)

	v, err := strconv.Atoi(etag)
	if err != nil {
		return 0, fmt.Errorf("ETag must contain a numeric version: %s", etag)
	}
	return v, nil
}

// expectedVersionFromRequest resolves the expected version for a write: the
// If-Match header wins when present, otherwise the body value is used. A
// malformed If-Match is a 400, not a conflict.
func expectedVersionFromRequest(c echo.Context, bodyVersion *int) (int, error) {
	if ifMatch := c.Request().Header.Get("If-Match"); ifMatch != "" {
		v, err := ParseETag(ifMatch)
		if err != nil {
			return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid If-Match header: "+err.Error())
		}
		return v, nil
	}
	if bodyVersion == nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "expected_version or If-Match is required")
	}
	return *bodyVersion, nil
}
