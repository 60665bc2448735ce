package models

import "time"

// PlusPlanName is the plan name reported by the remote shop profile for the upper tier.
const PlusPlanName = "shopify_plus"

// Store represents a connected merchant store.
type Store struct {
	UUID         string    `json:"uuid"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	APIKey       string    `json:"api_key"`
	APISecret    string    `json:"api_secret"`
	IsPlusTier   bool      `json:"is_plus_tier"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ShortID returns the first 8 characters of the store UUID.
func (s *Store) ShortID() string {
	if len(s.UUID) > 8 {
		return s.UUID[:8]
	}
	return s.UUID
}

// Shop is the remote shop profile.
type Shop struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	PlanName  string    `json:"plan_name"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPlus reports whether the shop is on the upper plan tier.
func (s *Shop) IsPlus() bool {
	return s.PlanName == PlusPlanName
}

// StoreRef identifies a store without carrying its credentials.
type StoreRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Ref returns the credential-free reference to the store.
func (s *Store) Ref() StoreRef {
	return StoreRef{UUID: s.UUID, Name: s.Name}
}
