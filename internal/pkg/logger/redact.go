package logger

import "strings"

// RedactID masks a customer identifier for safe logging.
// "cust-8f41c2d9" → "cust-8f4***"
// Short identifiers (≤4 chars) are fully masked.
func RedactID(id string) string {
	if len(id) <= 4 {
		return "***"
	}
	keep := len(id) / 2
	if keep > 8 {
		keep = 8
	}
	return id[:keep] + "***"
}

func redactValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "customer") && strings.Contains(key, "id") {
		return RedactID(val)
	}
	return val
}
