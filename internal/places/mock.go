package places

import (
	"context"

	"github.com/example/dining-coordinator/internal/application"
)

// Mock serves a fixed candidate pool. It backs deployments without an API
// key and acts as the fallback when the live API misbehaves.
type Mock struct{}

// FetchPool returns the static pool regardless of preferences.
func (Mock) FetchPool(ctx context.Context, prefs application.PoolPreferences) ([]application.Restaurant, error) {
	return mockPool(), nil
}

// Detail returns the pool entry with the given id, or a generic placeholder
// carrying the requested id.
func (Mock) Detail(ctx context.Context, id string) (application.Restaurant, error) {
	for _, restaurant := range mockPool() {
		if restaurant.ID == id {
			return restaurant, nil
		}
	}
	return application.Restaurant{
		ID:          id,
		Name:        "Sample Restaurant",
		Location:    "123 Sample St, Vancouver, BC",
		PriceLevel:  2,
		Rating:      4.5,
		PhoneNumber: "+1-604-555-0000",
		URL:         "https://example.com/sample-restaurant",
	}, nil
}

func mockPool() []application.Restaurant {
	return []application.Restaurant{
		{
			ID:          "mock_001",
			Name:        "Sushi Paradise",
			Location:    "123 Main St, Vancouver, BC",
			PriceLevel:  2,
			Rating:      4.5,
			PhoneNumber: "+1-604-555-0001",
			URL:         "https://example.com/sushi-paradise",
		},
		{
			ID:          "mock_002",
			Name:        "Italian Bistro",
			Location:    "456 Oak Ave, Vancouver, BC",
			PriceLevel:  3,
			Rating:      4.7,
			PhoneNumber: "+1-604-555-0002",
			URL:         "https://example.com/italian-bistro",
		},
		{
			ID:          "mock_003",
			Name:        "Burger Joint",
			Location:    "789 Elm St, Vancouver, BC",
			PriceLevel:  1,
			Rating:      4.2,
			PhoneNumber: "+1-604-555-0003",
			URL:         "https://example.com/burger-joint",
		},
		{
			ID:          "mock_004",
			Name:        "Thai Express",
			Location:    "321 Pine St, Vancouver, BC",
			PriceLevel:  2,
			Rating:      4.3,
			PhoneNumber: "+1-604-555-0004",
			URL:         "https://example.com/thai-express",
		},
		{
			ID:          "mock_005",
			Name:        "Mexican Cantina",
			Location:    "654 Maple Ave, Vancouver, BC",
			PriceLevel:  2,
			Rating:      4.6,
			PhoneNumber: "+1-604-555-0005",
			URL:         "https://example.com/mexican-cantina",
		},
	}
}
