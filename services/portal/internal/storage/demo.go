package storage

import "time"

// DemoEntities is the regulated entity directory used by cmd/seed and by local
// runs on the in-memory store.
func DemoEntities() []Entity {
	return []Entity{
		{
			ID:                 "ent-1",
			Name:               "Bank of Example S.A.",
			Category:           "Bank",
			RegistrationNumber: "0000123456",
			ContactEmail:       "contact@bank-example.pl",
			UpdatedAt:          time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:                 "ent-2",
			Name:               "SecurePay Payments Sp. z o.o.",
			Category:           "Payment Institution",
			RegistrationNumber: "0000654321",
			ContactEmail:       "office@securepay.pl",
			UpdatedAt:          time.Date(2025, 2, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:           "ent-3",
			Name:         "Future Mutual Fund TFI S.A.",
			Category:     "Investment Fund Company",
			ContactEmail: "tfi@future.pl",
			UpdatedAt:    time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC),
		},
	}
}
