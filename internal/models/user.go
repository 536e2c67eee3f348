package models

import "time"

// User is the read-only owner of one or more subscriptions.
type User struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	SubscriptionTier string    `json:"subscriptionTier,omitempty"`
	Region           string    `json:"region,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// UserDetail is a user together with every subscription it owns.
type UserDetail struct {
	User
	Subscriptions []Subscription `json:"subscriptions"`
}
