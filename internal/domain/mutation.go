package domain

import "time"

type Op string

const (
	OpSetQuantity Op = "set_quantity"
	OpRemove      Op = "remove"
)

// MutationIntent is one participant's requested change against the
// snapshot version they last observed. Name and Prices are only read
// when the intent inserts a product the cart has not seen before.
type MutationIntent struct {
	CartID       string     `json:"cart_id"`
	ProductID    string     `json:"product_id"`
	Op           Op         `json:"op"`
	Value        int        `json:"value,omitempty"`
	BaseVersion  int64      `json:"base_version"`
	SenderConnID string     `json:"-"`
	Name         string     `json:"name,omitempty"`
	Prices       []PriceRef `json:"prices,omitempty"`
}

type CollaboratorGrant struct {
	ID        string     `bson:"_id,omitempty" json:"id"`
	CartID    string     `bson:"cart_id" json:"cart_id"`
	UserID    string     `bson:"user_id" json:"user_id"`
	Username  string     `bson:"username" json:"username"`
	GrantedBy string     `bson:"granted_by" json:"granted_by"`
	GrantedAt time.Time  `bson:"granted_at" json:"granted_at"`
	RevokedAt *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// Revoked reports whether the grant is no longer usable.
func (g *CollaboratorGrant) Revoked() bool {
	return g.RevokedAt != nil
}
