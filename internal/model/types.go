package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle status reported by the backend.
type AuctionStatus string

const (
	StatusPending   AuctionStatus = "Pending"
	StatusActive    AuctionStatus = "Active"
	StatusCompleted AuctionStatus = "Completed"
	StatusCancelled AuctionStatus = "Cancelled"
	StatusExpired   AuctionStatus = "Expired"
)

// IsOpen reports whether bids can still be placed.
func (s AuctionStatus) IsOpen() bool {
	return s == StatusActive
}

// Bid is a single accepted bid.
type Bid struct {
	ID         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  Timestamp       `json:"timestamp"`
	IsWinning  bool            `json:"isWinning"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	AuctionID  string          `json:"auctionId"`
}

// Auction is the full auction detail returned by the REST API.
type Auction struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	ImageURL        *string         `json:"imageUrl"`
	StartingPrice   decimal.Decimal `json:"startingPrice"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	MinBidIncrement decimal.Decimal `json:"minBidIncrement"`
	StartTime       Timestamp       `json:"startTime"`
	EndTime         Timestamp       `json:"endTime"`
	Status          AuctionStatus   `json:"status"`
	TotalBids       int             `json:"totalBids"`
	TimeRemaining   TimeSpan        `json:"timeRemaining"`
	SellerID        string          `json:"sellerId"`
	SellerName      string          `json:"sellerName"`
	CategoryID      string          `json:"categoryId"`
	CategoryName    string          `json:"categoryName"`
	LatestBid       *Bid            `json:"latestBid"`
}

// Category groups auctions.
type Category struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	ImageURL     *string `json:"imageUrl"`
	AuctionCount int     `json:"auctionCount"`
}

// -----------------------------------------------------------------------------
// Hub events
// -----------------------------------------------------------------------------

// BidNotification is the room broadcast sent for every accepted bid (NewBid).
type BidNotification struct {
	AuctionID       string          `json:"auctionId"`
	Bid             Bid             `json:"bid"`
	NewCurrentPrice decimal.Decimal `json:"newCurrentPrice"`
	TotalBids       int             `json:"totalBids"`
	TimeRemaining   TimeSpan        `json:"timeRemaining"`
}

// AuctionStatusNotification is sent for AuctionStatusChanged and AuctionEnded.
type AuctionStatusNotification struct {
	AuctionID string        `json:"auctionId"`
	Status    AuctionStatus `json:"status"`
	Message   string        `json:"message"`
	WinnerBid *Bid          `json:"winnerBid"`
}

// TimerSync corrects client countdown drift.
type TimerSync struct {
	AuctionID     string    `json:"auctionId"`
	EndTime       Timestamp `json:"endTime"`
	TimeRemaining TimeSpan  `json:"timeRemaining"`
	ServerTime    Timestamp `json:"serverTime"`
}

// JoinedAuction acknowledges a JoinAuction invocation.
type JoinedAuction struct {
	AuctionID string    `json:"auctionId"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// LiveStats is the global (not room scoped) activity counter.
type LiveStats struct {
	ActiveAuctions int `json:"activeAuctions"`
	ConnectedUsers int `json:"connectedUsers"`
}

// SameAuction compares auction identifiers ignoring case, since GUIDs may
// arrive upper- or lower-cased depending on the serializer.
func SameAuction(a, b string) bool {
	return strings.EqualFold(a, b)
}

// BidError is the private rejection sent to the bidder only.
type BidError struct {
	Message string `json:"message"`
}

// UnmarshalJSON accepts the bare message string the hub sends, or an object
// carrying "message".
func (e *BidError) UnmarshalJSON(data []byte) error {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		e.Message = msg
		return nil
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("bid error: %w", err)
	}
	e.Message = obj.Message
	return nil
}
