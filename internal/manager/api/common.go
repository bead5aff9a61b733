// Package api exposes the engine's trigger surface over HTTP: task
// definition CRUD, manual execution triggers, execution queries and
// credential management. Every tenant-scoped handler reads the tenant from
// the X-Tenant-ID header set by the upstream auth layer.
package api

import (
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
)

const tenantHeader = "X-Tenant-ID"

// tenantID extracts the tenant from the request. Writes the error response
// itself and returns false when the header is missing or malformed.
func tenantID(c *app.RequestContext) (uint, bool) {
	raw := string(c.GetHeader(tenantHeader))
	if raw == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "missing " + tenantHeader + " header"})
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, utils.H{"error": "invalid " + tenantHeader + " header"})
		return 0, false
	}
	return uint(id), true
}

// pathID parses the :id route parameter.
func pathID(c *app.RequestContext) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
