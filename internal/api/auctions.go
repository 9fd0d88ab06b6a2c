package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/model"
)

// GetActiveAuctions fetches a page of active auctions.
func (c *Client) GetActiveAuctions(ctx context.Context, page, pageSize int) ([]model.Auction, error) {
	var auctions []model.Auction
	if err := c.get(ctx, "/api/Auctions", pageQuery(page, pageSize), &auctions); err != nil {
		return nil, fmt.Errorf("get auctions: %w", err)
	}
	return auctions, nil
}

// GetAuction fetches a single auction by id.
func (c *Client) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	var auction *model.Auction
	if err := c.get(ctx, "/api/Auctions/"+url.PathEscape(id), nil, &auction); err != nil {
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	if auction == nil {
		return nil, fmt.Errorf("get auction %s: %w", id, &APIError{StatusCode: http.StatusNotFound, Message: "auction not found"})
	}
	return auction, nil
}

// GetAuctionsByCategory fetches a page of auctions in one category.
func (c *Client) GetAuctionsByCategory(ctx context.Context, categoryID string, page, pageSize int) ([]model.Auction, error) {
	var auctions []model.Auction
	path := "/api/Auctions/category/" + url.PathEscape(categoryID)
	if err := c.get(ctx, path, pageQuery(page, pageSize), &auctions); err != nil {
		return nil, fmt.Errorf("get auctions by category: %w", err)
	}
	return auctions, nil
}

// GetCategories fetches all categories.
func (c *Client) GetCategories(ctx context.Context) ([]model.Category, error) {
	var categories []model.Category
	if err := c.get(ctx, "/api/Categories", nil, &categories); err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	return categories, nil
}

// GetAuctionBids fetches a page of an auction's bid history.
func (c *Client) GetAuctionBids(ctx context.Context, auctionID string, page, pageSize int) ([]model.Bid, error) {
	var bids []model.Bid
	path := "/api/Auctions/" + url.PathEscape(auctionID) + "/bids"
	if err := c.get(ctx, path, pageQuery(page, pageSize), &bids); err != nil {
		return nil, fmt.Errorf("get auction bids: %w", err)
	}
	return bids, nil
}

// PlaceBid places a bid over REST. The hub's PlaceBid is the primary path;
// this one has no superseded detection and is never retried.
func (c *Client) PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal, accessToken string) (*model.Bid, error) {
	body := struct {
		Amount decimal.Decimal `json:"amount"`
	}{Amount: amount}

	var bid model.Bid
	path := "/api/Auctions/" + url.PathEscape(auctionID) + "/bids"
	if err := c.post(ctx, path, accessToken, body, &bid); err != nil {
		return nil, fmt.Errorf("place bid: %w", err)
	}
	return &bid, nil
}
