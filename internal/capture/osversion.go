package capture

import (
	"fmt"
	"strconv"
	"strings"
)

type osVersion struct {
	Major, Minor, Patch int
}

// parseOSVersion parses "14.2.1" style product versions. Missing components
// are zero.
func parseOSVersion(s string) (osVersion, error) {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	if s == "" {
		return osVersion{}, fmt.Errorf("empty os version")
	}
	parts := strings.SplitN(s, ".", 3)
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return osVersion{}, fmt.Errorf("bad os version %q", s)
		}
		nums[i] = n
	}
	return osVersion{nums[0], nums[1], nums[2]}, nil
}

func (v osVersion) Less(o osVersion) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v osVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
