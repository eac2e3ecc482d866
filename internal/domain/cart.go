package domain

import "time"

type Role string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
)

// PriceRef is one brand's price for a product.
type PriceRef struct {
	BrandName string  `bson:"brand_name" json:"brand_name"`
	Price     float64 `bson:"price" json:"price"`
}

type LineItem struct {
	ProductID string     `bson:"product_id" json:"product_id"`
	Name      string     `bson:"name" json:"name"`
	Quantity  int        `bson:"quantity" json:"quantity"`
	Prices    []PriceRef `bson:"prices,omitempty" json:"prices,omitempty"`
}

// CartSnapshot is the unit exchanged between collaborators. Items keep
// insertion order and hold at most one entry per product.
type CartSnapshot struct {
	CartID    string     `bson:"_id" json:"cart_id"`
	OwnerID   string     `bson:"owner_id" json:"owner_id"`
	Name      string     `bson:"name" json:"name"`
	Items     []LineItem `bson:"items" json:"items"`
	Version   int64      `bson:"version" json:"version"`
	UpdatedAt time.Time  `bson:"updated_at" json:"-"`
}

// ItemIndex returns the position of the product in Items, or -1.
func (s *CartSnapshot) ItemIndex(productID string) int {
	for i := range s.Items {
		if s.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so the authoritative snapshot is never
// aliased by participants.
func (s *CartSnapshot) Clone() *CartSnapshot {
	out := *s
	out.Items = make([]LineItem, len(s.Items))
	copy(out.Items, s.Items)
	for i := range out.Items {
		if len(s.Items[i].Prices) > 0 {
			out.Items[i].Prices = make([]PriceRef, len(s.Items[i].Prices))
			copy(out.Items[i].Prices, s.Items[i].Prices)
		}
	}
	return &out
}
