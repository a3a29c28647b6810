package storage

import (
	"fmt"
	"time"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
)

var (
	seedCountries = []string{"US", "GB", "DE", "FR", "IN", "BR", "JP", "VN"}
	seedTiers     = []string{"free", "basic", "premium", "enterprise"}
)

// GenerateUsers builds n deterministic synthetic users for local runs and tests.
// offset keeps emails unique across batches.
func GenerateUsers(offset, n int, since time.Time) []domain.User {
	users := make([]domain.User, n)
	for i := 0; i < n; i++ {
		seq := offset + i
		users[i] = domain.User{
			Name:             fmt.Sprintf("User %d", seq),
			Email:            fmt.Sprintf("user%d@example.com", seq),
			SignupDate:       since.Add(time.Duration(seq) * time.Minute).UTC(),
			CountryCode:      seedCountries[seq%len(seedCountries)],
			SubscriptionTier: seedTiers[seq%len(seedTiers)],
			LifetimeValue:    fmt.Sprintf("%d.%02d", (seq*37)%5000, seq%100),
		}
	}
	return users
}
