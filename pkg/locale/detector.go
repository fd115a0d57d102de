package locale

import (
	"strings"
	"time"
)

func InferTimezoneFromPhone(phone string) string {
	if country := InferCountryFromPhone(phone); country != nil {
		return country.DefaultTimezone
	}
	return DefaultTimezone
}

func InferCountryFromPhone(phone string) *Country {
	normalized := strings.TrimSpace(phone)
	if normalized == "" {
		return nil
	}

	for _, country := range Countries {
		for _, prefix := range country.PhonePrefixes {
			if strings.HasPrefix(normalized, prefix) {
				return &country
			}
		}
	}

	return nil
}

// ResolveLocation picks the first loadable zone out of: the explicit zone, the
// zone inferred from the phone number, the fallback. UTC if none loads.
func ResolveLocation(explicit, phone, fallback string) *time.Location {
	candidates := []string{explicit}
	if country := InferCountryFromPhone(phone); country != nil {
		candidates = append(candidates, country.DefaultTimezone)
	}
	candidates = append(candidates, fallback)

	for _, name := range candidates {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
