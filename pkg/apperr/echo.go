package apperr

import "github.com/labstack/echo/v4"

// ToHTTP converts err into an echo.HTTPError carrying its status and reason.
func ToHTTP(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), Reason(err)).SetInternal(err)
}
