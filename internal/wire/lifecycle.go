package wire

import "fmt"

// Lifecycle is a bare-token lifecycle marker. It is sent as the raw
// token bytes, not as a JSON string.
type Lifecycle string

const (
	EnteringDeepSleep Lifecycle = "ENTERING_DEEP_SLEEP"
	Awake             Lifecycle = "AWAKE"
	AwakeWokeUp       Lifecycle = "AWAKE (WOKE UP)"
	AwakeInitial      Lifecycle = "AWAKE (INITIAL)"
	// NoAlertsSleeping uses an en dash (U+2013).
	NoAlertsSleeping Lifecycle = "NO ALERTS – Sleeping..."
)

var lifecycleTokens = map[Lifecycle]struct{}{
	EnteringDeepSleep: {},
	Awake:             {},
	AwakeWokeUp:       {},
	AwakeInitial:      {},
	NoAlertsSleeping:  {},
}

// Bytes returns the wire form of the token.
func (l Lifecycle) Bytes() []byte {
	return []byte(l)
}

// ParseLifecycle recognizes a lifecycle payload.
func ParseLifecycle(b []byte) (Lifecycle, error) {
	l := Lifecycle(b)
	if _, ok := lifecycleTokens[l]; !ok {
		return "", fmt.Errorf("unknown lifecycle token %q", string(b))
	}
	return l, nil
}
