package server

import (
	bidding "auction-room/internal/biddingService"
	handler "auction-room/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService *bidding.BiddingService, roomHandler *handler.RoomHandler) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	router.GET("/health", roomHandler.HealthHandler)
	router.GET("/ws/bid/:auction_id", roomHandler.ServeRoom)

	auctions := router.Group("/auctions")
	{
		auctions.GET("/:auction_id/highest", biddingHandler.GetHighestHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsHandler)
		auctions.POST("/:auction_id/bids", biddingHandler.PlaceBidHandler)
	}

	return router
}
