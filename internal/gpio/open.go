package gpio

import "fmt"

// Backend names accepted by Open.
const (
	BackendCdev = "gpiocdev"
	BackendRpio = "rpio"
)

// Open creates the platform for the named backend.
func Open(backend, chip string) (Platform, error) {
	switch backend {
	case BackendCdev, "":
		if chip == "" {
			chip = DefaultChip
		}
		return NewCdevPlatform(chip)
	case BackendRpio:
		return NewRpioPlatform()
	default:
		return nil, fmt.Errorf("unknown gpio backend %q (must be %s or %s)", backend, BackendCdev, BackendRpio)
	}
}
