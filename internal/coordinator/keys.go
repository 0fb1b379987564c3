package coordinator

import "github.com/google/uuid"

// Key layout shared with every replica. Changing these orphans live locks
// and caches, so treat them as part of the deployment contract.

func lockKey(auctionID uuid.UUID) string {
	return "lock:bid:" + auctionID.String()
}

func currentBidKey(auctionID uuid.UUID) string {
	return "auction:current-bid:" + auctionID.String()
}

func highestBidderKey(auctionID uuid.UUID) string {
	return "auction:highest-bidder:" + auctionID.String()
}

func revokedKey(credential string) string {
	return "revoked:" + credential
}
