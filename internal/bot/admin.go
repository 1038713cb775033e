package bot

import (
	"strings"

	"github.com/spf13/cast"
)

// ParseAdminIDs parses a comma-separated id list. Any malformed entry makes
// the whole set empty rather than failing startup.
func ParseAdminIDs(raw string) map[int64]bool {
	admins := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := cast.ToInt64E(part)
		if err != nil {
			return map[int64]bool{}
		}
		admins[id] = true
	}
	return admins
}
