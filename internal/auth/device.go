package auth

// DeviceDecision is the outcome of a device-lock check.
type DeviceDecision int

const (
	// DeviceAllowed lets the connection proceed without binding changes.
	DeviceAllowed DeviceDecision = iota
	// DeviceBind means the lock is armed but unbound: bind to this device.
	DeviceBind
	// DeviceRejected means the device does not match the bound identity.
	DeviceRejected
)

// CheckDevice applies the device-lock policy. When the lock is enabled and
// no device is bound yet, the first authenticated device claims the binding
// (trust-on-first-use). Guests never bind or consume the lock.
func CheckDevice(lockEnabled bool, boundID, presentedID string, isGuest bool) DeviceDecision {
	if !lockEnabled || isGuest {
		return DeviceAllowed
	}
	if boundID == "" {
		if presentedID == "" {
			// Lock armed but the client sent no identity: refuse rather
			// than silently bind to an empty string.
			return DeviceRejected
		}
		return DeviceBind
	}
	if presentedID == boundID {
		return DeviceAllowed
	}
	return DeviceRejected
}
