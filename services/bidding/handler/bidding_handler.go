package handler

import (
	"context"
	"net/http"

	model "auction-room/internal/models"
	"auction-room/services/bidding/helpers"
	"auction-room/utils"

	"github.com/gin-gonic/gin"
)

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, auctionID string, proposal model.BidProposal) (model.BidRecord, error)
	GetHighest(ctx context.Context, auctionID string) (model.Highest, error)
	GetBids(ctx context.Context, auctionID string) ([]model.BidRecord, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, model.BidProposal{Name: req.Name, Price: req.Price.String()})
	if err != nil {
		status, message, details := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, message, details)
		fields := map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"error":      err.Error(),
		}
		if status >= http.StatusInternalServerError {
			utils.Error("PlaceBidHandler: failed to place bid", fields)
		} else {
			utils.Info("PlaceBidHandler: bid rejected", fields)
		}
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid accepted")
	helpers.LogSuccess("PlaceBidHandler", "bid accepted", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"seq":        bid.Seq,
		"price":      model.FormatPrice(bid.Price),
	})
}

// GetHighestHandler handles GET /auctions/:auction_id/highest
func (h *BiddingHandler) GetHighestHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	highest, err := h.service.GetHighest(c.Request.Context(), auctionID)
	if err != nil {
		status, message, details := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, message, details)
		utils.Warn("GetHighestHandler: error retrieving highest bid", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := helpers.HighestResponse{
		AuctionID: auctionID,
		Price:     model.FormatPrice(highest.Price),
		Bidder:    highest.Bidder,
		Seq:       highest.Seq,
	}
	utils.JSONResponse(c, http.StatusOK, resp, "highest bid retrieved successfully")
}

// GetBidsHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBids(c.Request.Context(), auctionID)
	if err != nil {
		status, message, details := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, message, details)
		utils.Warn("GetBidsHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, bid := range bids {
		resp = append(resp, helpers.NewBidResponse(bid))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(resp),
	})
}
