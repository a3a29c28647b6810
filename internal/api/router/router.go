package router

import (
	"github.com/cuongbtq/csv-export-service/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware(deps.Logger))
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	exportHandler := handler.NewExportHandler(deps)

	r.GET("/health", exportHandler.Health)

	exports := r.Group("/exports")
	{
		// POST /exports/csv - Start a CSV export
		exports.POST("/csv", exportHandler.CreateExport)

		// GET /exports/:id/status - Export progress
		exports.GET("/:id/status", exportHandler.GetExportStatus)

		// GET /exports/:id/download - Download the finished file
		exports.GET("/:id/download", exportHandler.DownloadExport)

		// DELETE /exports/:id - Cancel an export and delete its file
		exports.DELETE("/:id", exportHandler.CancelExport)
	}

	return r
}
