package instrumentation

import "strings"

// ExtractUserDomain extracts the domain part from an email address so it can
// be used as a bounded metric label.
//
// Example:
//
//	ExtractUserDomain("news@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
//	ExtractUserDomain("")                  // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}

	return "unknown"
}

// Gmail operations recorded by the mail search client.
const (
	OperationProfile = "profile"
	OperationList    = "list"
	OperationGet     = "get"
)
