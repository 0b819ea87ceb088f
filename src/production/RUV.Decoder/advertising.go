package decoder

import (
	"github.com/cockroachdb/errors"
)

const adTypeManufacturerData byte = 0xFF

var (
	ErrMalformedAdvertisement = errors.New("malformed advertisement")
	ErrNoManufacturerData     = errors.New("no manufacturer data in advertisement")
)

// ManufacturerData walks the AD structures of a raw BLE advertisement
// (length, type, data...) and returns the first manufacturer-specific
// element, company id included.
func ManufacturerData(adv []byte) ([]byte, error) {
	for i := 0; i < len(adv); {
		length := int(adv[i])
		if length == 0 {
			// zero length marks early termination of the significant part
			break
		}
		end := i + 1 + length
		if end > len(adv) {
			return nil, errors.Wrapf(ErrMalformedAdvertisement, "AD structure at offset %d overruns %d bytes", i, len(adv))
		}
		if adv[i+1] == adTypeManufacturerData {
			return adv[i+2 : end], nil
		}
		i = end
	}
	return nil, ErrNoManufacturerData
}
