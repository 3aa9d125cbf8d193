//go:build darwin

package capture

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func currentOSVersion() (osVersion, error) {
	s, err := unix.Sysctl("kern.osproductversion")
	if err != nil {
		return osVersion{}, fmt.Errorf("sysctl kern.osproductversion: %w", err)
	}
	return parseOSVersion(s)
}
