package server

import (
	"net/http"

	"whispr/api"

	"github.com/gin-gonic/gin"
)

func Help(c *gin.Context) {
	c.String(http.StatusOK, `
	Whispr report store API:
	POST /<method> with {"version": "2.0", "args": {...}} and the caller in the X-Whispr-Principal header.
	Answers are {"Ok": value} or {"Err": "message"}.
	`)
}

func Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": api.APIVersion})
}
