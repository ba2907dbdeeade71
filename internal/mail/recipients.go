package mail

import (
	"strings"

	"github.com/gabibdods/NullVelope/internal/mail/models"
)

// Returns the local parts of the recipient tokens that are addressed to the
// served domain, lower cased, without duplicates, in first seen order.
// Tokens that are not a plain local@domain pair are left out.
func ResolveLocalParts(tokens []string, domain string) []string {
	domain = strings.ToLower(strings.Trim(domain, "<> \t"))

	seen := map[string]bool{}
	localParts := []string{}
	for _, token := range tokens {
		local, ok := localPartFor(token, domain)
		if !ok || seen[local] {
			continue
		}
		seen[local] = true
		localParts = append(localParts, local)
	}

	return localParts
}

func localPartFor(token string, domain string) (string, bool) {
	if domain == "" || strings.Count(token, "@") != 1 {
		return "", false
	}

	local, host, _ := strings.Cut(token, "@")
	if !strings.EqualFold(strings.Trim(host, "<> \t\r\n"), domain) {
		return "", false
	}

	// Drop a display name in front of an angle address.
	if index := strings.LastIndex(local, "<"); index >= 0 {
		local = local[index+1:]
	}
	local = models.NormalizeMailbox(strings.Trim(local, "<> \t\r\n"))
	if local == "" {
		return "", false
	}

	return local, true
}
