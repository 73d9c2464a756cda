package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// userID returns the buyer id as a string for rate-limit keys, or "anon"
// on routes without authentication such as gateway callbacks.
func userID(c echo.Context) string {
	if id, ok := BuyerID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
