package api

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed docs/openapi.json
var openAPISpec []byte

// ServeOpenAPI 返回内嵌的 OpenAPI 文档
func ServeOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", openAPISpec)
}
