package catalog

// Default returns the launch catalog.
func Default() File {
	const (
		oneYear = "Code expires in 1 year from purchase date"
		amazon  = "Redeem at amazon.com/gift-cards"
	)
	na := []string{"US", "CA", "RO"}
	wide := []string{"US", "CA", "RO", "UK", "DE"}

	return File{
		Batch:          DefaultBatch,
		CodesPerReward: DefaultCodesPerReward,
		Rewards: []Entry{
			{
				ID: "amazon-5", Title: "Amazon Gift Card $5", Provider: "amazon",
				Description: "Instant digital delivery to your email",
				Price:       500, Value: "5", Currency: "USD", Region: na,
				Category: "giftcard", Active: true,
				Image: "https://cdn.earnly.app/amazon-5.png", Terms: oneYear,
				EstimatedDelivery: "instant", Instructions: amazon,
			},
			{
				ID: "amazon-10", Title: "Amazon Gift Card $10", Provider: "amazon",
				Description: "Instant digital delivery to your email",
				Price:       1000, Value: "10", Currency: "USD", Region: na,
				Category: "giftcard", Active: true,
				Image: "https://cdn.earnly.app/amazon-10.png", Terms: oneYear,
				EstimatedDelivery: "instant", Instructions: amazon,
			},
			{
				ID: "paypal-5", Title: "PayPal $5", Provider: "paypal",
				Description: "Instant PayPal transfer to your account",
				Price:       500, Value: "5", Currency: "USD", Region: wide,
				Category: "paypal", Active: true,
				Image: "https://cdn.earnly.app/paypal-5.png", Terms: "Transfer processed within 24 hours",
				EstimatedDelivery: "1-24h", Instructions: "Enter your PayPal email when redeeming",
			},
			{
				ID: "steam-20", Title: "Steam Wallet $20", Provider: "steam",
				Description: "Steam digital wallet code",
				Price:       2000, Value: "20", Currency: "USD", Region: wide,
				Category: "giftcard", Active: true,
				Image: "https://cdn.earnly.app/steam-20.png", Terms: oneYear,
				EstimatedDelivery: "instant", Instructions: `Redeem in Steam client under "Add funds"`,
			},
		},
	}
}
