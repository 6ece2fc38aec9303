package handlers

import "github.com/labstack/echo/v4"

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{Message: message})
}
