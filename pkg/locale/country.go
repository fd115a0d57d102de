package locale

const (
	DefaultTimezone = "UTC"
)

type Country struct {
	Code            string   // ISO 3166-1 alpha-2 country code (e.g., "NG", "US")
	Name            string   // Human-readable country name
	PhonePrefixes   []string // Valid phone number prefixes (e.g., ["+234", "234"])
	DefaultTimezone string   // IANA timezone identifier (e.g., "Africa/Lagos")
	Currency        string   // ISO 4217 currency used for consultation fees
}

var (
	Countries = map[string]Country{
		"IL": {
			Code:            "IL",
			Name:            "Israel",
			PhonePrefixes:   []string{"+972", "972"},
			DefaultTimezone: "Asia/Jerusalem",
			Currency:        "ILS",
		},
		"US": {
			Code:            "US",
			Name:            "United States",
			PhonePrefixes:   []string{"+1"},
			DefaultTimezone: "America/New_York",
			Currency:        "USD",
		},
		"NG": {
			Code:            "NG",
			Name:            "Nigeria",
			PhonePrefixes:   []string{"+234", "234"},
			DefaultTimezone: "Africa/Lagos",
			Currency:        "NGN",
		},
		"GB": {
			Code:            "GB",
			Name:            "United Kingdom",
			PhonePrefixes:   []string{"+44"},
			DefaultTimezone: "Europe/London",
			Currency:        "GBP",
		},
	}
)
