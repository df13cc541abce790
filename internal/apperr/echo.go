package apperr

import (
	"errors"
	"net/http"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
)

var log = logging.Logger("api")

// JSON writes err using the API's error envelope.
func JSON(c echo.Context, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return c.JSON(e.Kind.HTTPStatus(), echo.Map{
			"error": e.Message,
			"code":  e.Code,
			"kind":  e.Kind.String(),
		})
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, echo.Map{"error": he.Message})
	}
	log.Errorw("unhandled error", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

// HTTPErrorHandler plugs JSON into echo for errors returned by handlers.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if jerr := JSON(c, err); jerr != nil {
		log.Warnw("failed to write error response", "error", jerr)
	}
}
