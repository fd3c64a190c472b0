package app

import (
	"im_backend/docs"
	"im_backend/internal/config"
	"im_backend/internal/middleware"
	"im_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.Health)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		authGroup.GET("/profile", c.auth.GetProfile)

		im := authGroup.Group("/im")
		{
			im.GET("/ws", c.message.HandleWS)

			im.GET("/users/search", c.contact.SearchUser)
			im.GET("/users/search-fuzzy", c.contact.SearchUsers)

			im.GET("/contacts", c.contact.ListContacts)
			im.POST("/contacts/requests", c.contact.AddContactRequest)
			im.GET("/contacts/requests/incoming", c.contact.ListIncomingRequests)
			im.GET("/contacts/requests/outgoing", c.contact.ListOutgoingRequests)
			im.PUT("/contacts/requests/:id/accept", c.contact.AcceptRequest)
			im.PUT("/contacts/requests/:id/reject", c.contact.RejectRequest)
			im.PUT("/contacts/:peerId/block", c.contact.SetBlocked)
			im.DELETE("/contacts/:peerId", c.contact.DeleteContact)

			im.POST("/messages", c.message.SendMessage)
			im.GET("/messages/:peerId", c.message.GetConversation)
		}
	}
}
