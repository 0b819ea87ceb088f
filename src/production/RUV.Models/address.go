package ruvmodels

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// DeviceAddress is a 6-byte Bluetooth hardware address. It is comparable
// and used directly as a map key; the string form is only derived when a
// label value is needed.
type DeviceAddress [6]byte

// ParseDeviceAddress parses a hardware address written with colon, dash or
// no separators, in either case.
func ParseDeviceAddress(s string) (DeviceAddress, error) {
	var addr DeviceAddress

	cleaned := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(cleaned) != 2*len(addr) {
		return addr, errors.Newf("invalid device address %q: expected 6 bytes", s)
	}
	if _, err := hex.Decode(addr[:], []byte(cleaned)); err != nil {
		return addr, errors.Wrapf(err, "invalid device address %q", s)
	}
	return addr, nil
}

// String renders the canonical label form, e.g. "C5:D2:1A:8F:00:01".
func (a DeviceAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}
