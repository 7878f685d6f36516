package router

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-store/internal/api/handlers/image"
	"github.com/aliskhannn/image-store/internal/api/middleware"
	"github.com/aliskhannn/image-store/internal/api/respond"
	"github.com/aliskhannn/image-store/internal/model"
)

func Setup(h *image.Handler, allowedOrigins []string) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.CORSMiddleware(allowedOrigins))
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	img := r.Group("/image")

	img.POST("/upload", h.Upload)                                    // uploading image
	img.GET("/list", h.List)                                         // listing all images
	img.GET("/:id", h.Get)                                           // getting image metadata by id
	img.PUT("/resize/:id", h.Resize)                                 // regenerating the derivative
	img.DELETE("/delete/:id", h.Delete)                              // deleting image by id
	img.GET("/get/compressed/:id", h.Serve(model.VariantCompressed)) // serving the derivative
	img.GET("/get/original/:id", h.Serve(model.VariantOriginal))     // serving the original

	metrics := promhttp.Handler()
	r.GET("/metrics", func(c *ginext.Context) {
		metrics.ServeHTTP(c.Writer, c.Request)
	})
	r.GET("/healthz", func(c *ginext.Context) {
		respond.OK(c, "ok")
	})

	return r
}
