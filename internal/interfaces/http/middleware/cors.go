package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig holds the cross-origin policy.
type CORSConfig struct {
	// AllowedOrigins lists exact origins or "*". Empty disables CORS.
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// CORS returns the cross-origin middleware, or nil when no origin is
// configured.
func CORS(config CORSConfig) gin.HandlerFunc {
	if len(config.AllowedOrigins) == 0 {
		return nil
	}
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Accept", "Content-Type", "Authorization", HeaderRequestID},
		ExposeHeaders:    []string{HeaderRequestID, "Retry-After"},
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}
	if len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*" && !config.AllowCredentials {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = config.AllowedOrigins
	}
	if c.MaxAge == 0 {
		c.MaxAge = 12 * time.Hour
	}
	return cors.New(c)
}
