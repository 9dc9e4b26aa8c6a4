package validation

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"
)

// RFC 5737 documentation ranges.
var documentationPrefixes = []netip.Prefix{
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
}

type Violations struct {
	Errors map[string][]error
}

func (violations Violations) IsEmpty() bool {
	return len(violations.Errors) == 0
}

// Error lists every violation, sorted by attribute name.
func (violations Violations) Error() string {
	names := make([]string, 0, len(violations.Errors))
	for name := range violations.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		for _, err := range violations.Errors[name] {
			parts = append(parts, err.Error())
		}
	}

	return strings.Join(parts, "; ")
}

// ValidateMap checks every attribute in data against its rules. An
// attribute without rules is a violation itself.
func ValidateMap(data map[string]any, rules map[string][]string) Violations {
	var violations Violations
	violations.Errors = make(map[string][]error)

	for attributeName, attributeValue := range data {
		attributeRules, attributeRulesExists := rules[attributeName]
		if !attributeRulesExists {
			violations.Errors[attributeName] = append(violations.Errors[attributeName], fmt.Errorf("validation: no rules found :: %s", attributeName))
			continue
		}

		var errorCollection []error
		for _, attributeRule := range attributeRules {
			if err := validate(attributeRule, attributeName, attributeValue); err != nil {
				errorCollection = append(errorCollection, err)
			}
		}

		if len(errorCollection) != 0 {
			violations.Errors[attributeName] = errorCollection
		}
	}

	return violations
}

func validate(rule string, name string, value any) error {
	switch rule {
	case "required":
		switch v := value.(type) {
		case nil:
			return fmt.Errorf("%s is required", name)
		case string:
			if v == "" {
				return fmt.Errorf("%s is required", name)
			}
		}
	case "positive":
		if !ValidatePositive(value) {
			return fmt.Errorf("%s must be positive", name)
		}
	case "non-negative":
		if !ValidateNonNegative(value) {
			return fmt.Errorf("%s must not be negative", name)
		}
	case "ipv4":
		if _, ok := parseIPv4(value); !ok {
			return fmt.Errorf("%s must be an IPv4 address", name)
		}
	case "unicast":
		if addr, ok := parseIPv4(value); ok && addr.IsMulticast() {
			return fmt.Errorf("%s must not be a multicast address", name)
		}
	case "not-documentation":
		if addr, ok := parseIPv4(value); ok && ValidateDocumentation(addr) {
			return fmt.Errorf("%s must not be a documentation address", name)
		}
	default:
		return fmt.Errorf("invalid validation rule :: %s", rule)
	}

	return nil
}

func parseIPv4(value any) (netip.Addr, bool) {
	s, ok := value.(string)
	if !ok {
		return netip.Addr{}, false
	}

	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}

	return addr, true
}

// Numberic operations
func ValidatePositive(value any) bool {
	switch v := value.(type) {
	case int:
		return v > 0
	case time.Duration:
		return v > 0
	}
	return false
}

func ValidateNonNegative(value any) bool {
	switch v := value.(type) {
	case int:
		return v >= 0
	case time.Duration:
		return v >= 0
	}
	return false
}

// Address operations
func ValidateDocumentation(addr netip.Addr) bool {
	for _, prefix := range documentationPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
