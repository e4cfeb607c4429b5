// Package ids formats the human-facing customer and consultation codes.
package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// CustomerCode renders the code following the highest numeric code in use.
func CustomerCode(maxExisting int) string {
	return fmt.Sprintf("%05d", maxExisting+1)
}

// ConsultationID returns "<code>_NNN" one past the highest suffix found in
// existing. Entries that do not belong to code are ignored.
func ConsultationID(customerCode string, existing []string) string {
	prefix := customerCode + "_"
	highest := 0
	for _, id := range existing {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return fmt.Sprintf("%s%03d", prefix, highest+1)
}
