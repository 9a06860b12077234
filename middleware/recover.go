package middleware

import (
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RecoverMiddleware turns a handler panic into a 500 and logs it on one line
func RecoverMiddleware() echo.MiddlewareFunc {
	return middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisableStackAll: true,
		LogErrorFunc: func(c echo.Context, err error, _ []byte) error {
			log.Printf("Recovered from panic on %s: %v", c.Request().URL.Path, err)
			return err
		},
	})
}
