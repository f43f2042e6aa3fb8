// Package subscriptions maintains the local cache of a user's stream
// subscriptions, kept consistent with the remote authoritative store
// through reconciliation operations.
package subscriptions

import (
	"encoding/json"
	"fmt"
)

// ID is the server-assigned subscription identifier. The backend
// serializes it as a JSON number, but the agent treats it as opaque.
type ID string

// UnmarshalJSON accepts both string and numeric identifiers.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid subscription id %s", string(data))
	}
	*id = ID(n.String())
	return nil
}

// Subscription is one user-tracked stream and its monitoring
// parameters.
type Subscription struct {
	ID                  ID       `json:"id"`
	URL                 string   `json:"url"`
	IsActive            bool     `json:"is_active"`
	IsDeleted           bool     `json:"is_deleted"`
	ProvideNotification bool     `json:"provide_notification"`
	FrameFetchFrequency int      `json:"frame_fetch_frequency"`
	TargetSpecies       []string `json:"target_species,omitempty"`
	CreatedAt           string   `json:"created_at,omitempty"`
}

// UnmarshalJSON decodes the backend's wire shape. The backend stores
// target species as a JSON-encoded string inside target_bird_species;
// locally produced payloads carry a plain target_species array.
func (s *Subscription) UnmarshalJSON(data []byte) error {
	type wire struct {
		ID                  ID       `json:"id"`
		URL                 string   `json:"url"`
		IsActive            bool     `json:"is_active"`
		IsDeleted           bool     `json:"is_deleted"`
		ProvideNotification bool     `json:"provide_notification"`
		FrameFetchFrequency int      `json:"frame_fetch_frequency"`
		TargetSpecies       []string `json:"target_species"`
		TargetBirdSpecies   string   `json:"target_bird_species"`
		CreatedAt           string   `json:"created_at"`
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	species := w.TargetSpecies
	if species == nil && w.TargetBirdSpecies != "" {
		// Tolerate garbage: a species list that does not parse is
		// treated as unset, not a failed load.
		_ = json.Unmarshal([]byte(w.TargetBirdSpecies), &species)
	}

	*s = Subscription{
		ID:                  w.ID,
		URL:                 w.URL,
		IsActive:            w.IsActive,
		IsDeleted:           w.IsDeleted,
		ProvideNotification: w.ProvideNotification,
		FrameFetchFrequency: w.FrameFetchFrequency,
		TargetSpecies:       species,
		CreatedAt:           w.CreatedAt,
	}
	return nil
}
