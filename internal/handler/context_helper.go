package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-auth/internal/middleware"
	"github.com/noah-isme/fintrack-auth/internal/models"
)

// DeviceHeader lets clients declare the device class of a new session.
const DeviceHeader = "X-Client-Device"

func claimsFromContext(c *gin.Context) *models.AccessClaims {
	return middleware.Claims(c)
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Device:    models.ParseDeviceType(c.GetHeader(DeviceHeader)),
	}
}
