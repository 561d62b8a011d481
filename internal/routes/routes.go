package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/lupohub/lupohub/internal/handlers"
	"github.com/lupohub/lupohub/internal/middleware"
	"github.com/lupohub/lupohub/internal/models"
)

// SetupRouter wires every route. Login, health, OAuth callbacks and
// marketplace webhooks are public; everything else needs a bearer token.
func SetupRouter(h *handlers.Handlers, corsOrigin string) *gin.Engine {
	router := gin.New()

	// --- Global middleware (CORS first so preflights short-circuit) ---
	router.Use(middleware.CORSMiddleware(corsOrigin))
	router.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery(), middleware.ErrorHandler())

	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		// --- Public ---
		api.POST("/auth/login", middleware.LoginRateLimiter(), h.Login)
		api.GET("/integrations/:platform/callback", h.IntegrationCallback)
		api.POST("/webhooks/tiendanube", h.TiendaNubeWebhook)
		api.POST("/webhooks/mercadolibre", h.MercadoLibreWebhook)

		// --- Protected ---
		auth := api.Group("/")
		auth.Use(middleware.AuthMiddleware(h.Tokens))
		{
			auth.GET("/auth/me", h.Me)

			// Products
			auth.GET("/products", h.ListProducts)
			auth.POST("/products", h.CreateProduct)
			auth.PATCH("/products/stock", h.PatchStock)
			auth.DELETE("/products/all", middleware.RequireRole(models.RoleAdmin), h.DeleteAllProducts)
			auth.PUT("/products/variants/:variantId/external-ids", h.SetVariantExternalIDs)
			auth.GET("/products/:sku", h.GetProduct)
			auth.PUT("/products/:id", h.UpdateProduct)
			auth.PUT("/products/:id/external-ids", h.SetProductExternalIDs)
			auth.DELETE("/products/:id", h.DeleteProduct)

			// Colors & sizes
			auth.GET("/colors", h.ListColors)
			auth.POST("/colors", h.CreateColor)
			auth.GET("/sizes", h.ListSizes)
			auth.POST("/sizes", h.CreateSize)

			// Orders
			auth.GET("/orders", h.ListOrders)
			auth.POST("/orders", h.CreateOrder)
			auth.GET("/orders/:id", h.GetOrder)
			auth.PUT("/orders/:id", h.UpdateOrder)
			auth.PATCH("/orders/:id", h.UpdateOrder)
			auth.DELETE("/orders/:id", h.DeleteOrder)
			auth.PATCH("/orders/:id/status", h.UpdateOrderStatus)
			auth.PATCH("/orders/:id/picking", h.UpdatePicking)

			// Stock
			auth.GET("/stock/movements", h.ListMovements)
			auth.POST("/stock/sync/:variantId", h.SyncVariantStock)
			auth.GET("/stock/sync-jobs", h.ListSyncJobs)

			// Integrations
			auth.GET("/integrations/status", h.IntegrationStatus)
			auth.GET("/integrations/:platform/auth", h.IntegrationAuthURL)
			auth.GET("/integrations/:platform/sync", h.SyncTiendaNube)
			auth.POST("/integrations/:platform/sync", h.SyncTiendaNube)
			auth.POST("/integrations/:platform/disconnect", h.DisconnectIntegration)
			auth.DELETE("/integrations/:platform/disconnect", h.DisconnectIntegration)
			auth.GET("/integrations/:platform/orders", h.MarketplaceOrders)

			// Customers
			auth.GET("/customers", h.ListCustomers)
			auth.POST("/customers", h.CreateCustomer)
			auth.GET("/customers/:id", h.GetCustomer)
			auth.PUT("/customers/:id", h.UpdateCustomer)
			auth.DELETE("/customers/:id", h.DeleteCustomer)

			// Users
			admin := auth.Group("/users")
			admin.Use(middleware.RequireRole(models.RoleAdmin))
			{
				admin.GET("", h.ListUsers)
				admin.POST("", h.CreateUser)
			}

			auth.GET("/dashboard/stats", h.GetDashboardStats)
			auth.POST("/assistant/chat", h.ChatAssistant)
		}
	}

	return router
}
