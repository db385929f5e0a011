// Package handlers implements the admin API endpoints.
package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandleError registers err on the gin context and aborts. The response body
// is written by middleware.ErrorHandler.
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
