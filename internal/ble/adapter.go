// Package ble provides a small peripheral façade over a BLE stack. Firmware
// declares GATT services and characteristics by UUID string, starts
// advertising and pushes notifications to the connected central. The stack
// itself (tinygo or go-ble) sits behind the Stack interface.
package ble

// Default UUIDs of the sample profile served by cmd/blebeacon.
const (
	DefaultServiceUUID        = "12345678-1234-5678-1234-56789abcdef0"
	DefaultCharacteristicUUID = "12345678-1234-5678-1234-56789abcdef1"
)

// Property is a bit set of GATT characteristic access properties.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropNotify
)

// DefaultProperties is what AddCharacteristic declares.
const DefaultProperties = PropRead | PropWrite | PropNotify

// Has reports whether all bits of q are set in p.
func (p Property) Has(q Property) bool { return p&q == q }

// ConnectionObserver receives connect and disconnect events from the stack.
// The stack calls it from its own event context.
type ConnectionObserver interface {
	OnConnect()
	OnDisconnect()
}

// Stack abstracts the BLE peripheral stack for testing.
type Stack interface {
	// Init initializes the radio stack with the device name and creates the
	// GATT server.
	Init(name string) (Server, error)
	// Advertising returns the advertising manager.
	Advertising() Advertising
}

// Server is the GATT server created by Stack.Init.
type Server interface {
	// SetObserver installs the connection observer.
	SetObserver(obs ConnectionObserver)
	// CreateService creates a service with the given UUID. The service is
	// not visible to centrals until started.
	CreateService(uuid string) (Service, error)
}

// Service represents a GATT service owned by the stack.
type Service interface {
	UUID() string
	// CreateCharacteristic declares a characteristic within the service.
	CreateCharacteristic(uuid string, props Property) (Characteristic, error)
	// Start publishes the service and its characteristics.
	Start() error
}

// Characteristic represents a GATT characteristic owned by the stack.
type Characteristic interface {
	UUID() string
	// SetValue replaces the characteristic value without notifying.
	SetValue(data []byte)
	// Value returns the current value.
	Value() []byte
	// Notify pushes the current value to subscribed centrals.
	Notify() error
	// OnWrite registers a callback for central writes.
	OnWrite(fn func(data []byte))
}

// Advertising builds the advertising payload and controls advertising.
type Advertising interface {
	AddServiceUUID(uuid string) error
	SetScanResponse(enabled bool)
	SetName(name string)
	Start() error
	Stop() error
}
