package httpdto

type CreateConversationRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	BuyerID   string `json:"buyerId" binding:"required"`
	SellerID  string `json:"sellerId" binding:"required"`
}
