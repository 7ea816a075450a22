package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"realityshop/internal/models"
)

// Response helpers; every API reply has the same envelope.
func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, status int, msg string) error {
	return c.JSON(status, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}
