package domain

import "time"

// Brand is a canonical brand entity. Brands are created lazily by the identity
// resolver the first time a never-seen normalized name appears; aliases
// accumulate as new raw spellings map to the same normalized name.
type Brand struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalizedName"`
	Aliases        []string  `json:"aliases,omitempty"`
	IsVerified     bool      `json:"isVerified"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HasAlias reports whether the raw spelling is already recorded on the brand.
func (b *Brand) HasAlias(raw string) bool {
	for _, a := range b.Aliases {
		if a == raw {
			return true
		}
	}
	return false
}

// PotencyRange is a percentage range for THC or CBD content.
type PotencyRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Product is a canonical product scoped to one brand. Products are never
// deleted; a product absent from recent snapshots is implicitly stale but its
// history stays queryable.
type Product struct {
	ID             string        `json:"id"`
	BrandID        string        `json:"brandId"`
	Name           string        `json:"name"`
	NormalizedName string        `json:"normalizedName"`
	Category       string        `json:"category,omitempty"`
	Strain         string        `json:"strain,omitempty"`
	Weight         string        `json:"weight,omitempty"`
	THCRange       *PotencyRange `json:"thcRange,omitempty"`
	CBDRange       *PotencyRange `json:"cbdRange,omitempty"`
	FirstSeenAt    time.Time     `json:"firstSeenAt"`
	LastSeenAt     time.Time     `json:"lastSeenAt"`
}
