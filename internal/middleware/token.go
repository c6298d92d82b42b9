package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/services"
)

type TokenMiddleware struct {
	log          *logger.Logger
	tokenService services.TokenService
}

func NewTokenMiddleware(log *logger.Logger, tokenService services.TokenService) *TokenMiddleware {
	middlewareLog := log.With("middleware", "TokenMiddleware")
	return &TokenMiddleware{log: middlewareLog, tokenService: tokenService}
}

// RequireSampleToken parses the per-sample token and stashes the sample ID it
// grants on the context. Handlers compare it against the path parameter.
func (tm *TokenMiddleware) RequireSampleToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing or invalid token", "code": "missing_token"}})
			return
		}
		sampleID, err := tm.tokenService.ParseSampleToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": err.Error(), "code": "invalid_token"}})
			return
		}
		c.Set("token_sample_id", sampleID)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
