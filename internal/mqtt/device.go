package mqtt

import "github.com/nugget/telenode/internal/buildinfo"

// Topics holds the publish topics for one node. Every record kind has
// its own topic under <prefix>/<device>.
type Topics struct {
	Telemetry string
	State     string
	Lifecycle string
}

// NewTopics derives the node's topics from the configured prefix and
// device name.
func NewTopics(prefix, deviceName string) Topics {
	base := prefix + "/" + deviceName
	return Topics{
		Telemetry: base + "/telemetry",
		State:     base + "/state",
		Lifecycle: base + "/lifecycle",
	}
}

// ClientID builds the broker client identifier from the device name and
// the persistent instance ID. Only the leading block of the UUID is used
// so the identifier stays short and readable in broker logs; the device
// name keeps it unique across a fleet.
func ClientID(deviceName, instanceID string) string {
	short := instanceID
	if len(short) > 8 {
		short = short[:8]
	}
	return buildinfo.Name + "-" + deviceName + "-" + short
}
