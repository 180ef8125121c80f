package listing

import "time"

// Listing captures the subset of equipment data exposed via the public API
// layer. Matching and pricing stay out of this service.
type Listing struct {
	ID        string
	OwnerUID  string
	Title     string
	Category  string
	DailyRate float64
	Available bool
	CreatedAt time.Time
}
