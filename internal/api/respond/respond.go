package respond

import (
	"io"
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-store/internal/xerrors"
)

// Success represents a standard structure for successful responses.
type Success struct {
	Result interface{} `json:"result"`
}

// Error represents a standard structure for error responses.
type Error struct {
	Message string `json:"message"`
}

// Stream copies an image from reader into the response with the given content type.
// Browser caching is disabled so clients always see the latest derivative.
func Stream(c *ginext.Context, status int, contentType string, reader io.Reader) {
	NoCache(c)
	c.DataFromReader(status, -1, contentType, reader, nil)
}

// NoCache sets the headers that disable client-side caching.
func NoCache(c *ginext.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
}

// JSON sends a JSON response with the specified HTTP status code and data.
// It uses the Gin context to encode the data into JSON format.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK JSON response, wrapping the given result in a Success struct.
func OK(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusOK, Success{Result: result})
}

// Fail sends an error JSON response with the specified HTTP status code.
// The error message is wrapped in an Error struct.
func Fail(c *ginext.Context, status int, err error) {
	JSON(c, status, Error{Message: err.Error()})
}

// FailErr sends err with the status derived from its kind.
func FailErr(c *ginext.Context, err error) {
	Fail(c, xerrors.HTTPStatus(xerrors.KindOf(err)), err)
}
