//go:build !darwin

package ble

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoStack implements Stack on top of tinygo-org/bluetooth. It runs on
// TinyGo-supported microcontrollers as well as Linux (BlueZ) and Windows.
type TinyGoStack struct {
	adapter *bluetooth.Adapter
	adv     *tinygoAdvertising
}

// NewTinyGoStack creates a stack bound to the default adapter.
func NewTinyGoStack() *TinyGoStack {
	return &TinyGoStack{
		adapter: bluetooth.DefaultAdapter,
		adv:     &tinygoAdvertising{adapter: bluetooth.DefaultAdapter},
	}
}

func newTinyGoStack() (Stack, error) {
	return NewTinyGoStack(), nil
}

func (s *TinyGoStack) Init(name string) (Server, error) {
	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}
	s.adv.SetName(name)
	return &tinygoServer{adapter: s.adapter}, nil
}

func (s *TinyGoStack) Advertising() Advertising { return s.adv }

// Compile-time check that TinyGoStack implements Stack.
var _ Stack = (*TinyGoStack)(nil)

type tinygoServer struct {
	adapter *bluetooth.Adapter
}

func (s *tinygoServer) SetObserver(obs ConnectionObserver) {
	s.adapter.SetConnectHandler(func(_ bluetooth.Device, connected bool) {
		if connected {
			obs.OnConnect()
			return
		}
		obs.OnDisconnect()
	})
}

func (s *tinygoServer) CreateService(uuid string) (Service, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidUUID, uuid, err)
	}
	return &tinygoService{adapter: s.adapter, uuid: uuid, parsed: u}, nil
}

// tinygoService collects characteristic declarations until Start, because
// tinygo registers a service together with all of its characteristics.
type tinygoService struct {
	adapter *bluetooth.Adapter
	uuid    string
	parsed  bluetooth.UUID

	mu      sync.Mutex
	chars   []*tinygoCharacteristic
	started bool
}

func (s *tinygoService) UUID() string { return s.uuid }

func (s *tinygoService) CreateCharacteristic(uuid string, props Property) (Characteristic, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidUUID, uuid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrServiceStarted
	}
	c := &tinygoCharacteristic{uuid: uuid, parsed: u, props: props}
	s.chars = append(s.chars, c)
	return c, nil
}

func (s *tinygoService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	svc := &bluetooth.Service{UUID: s.parsed}
	for _, c := range s.chars {
		svc.Characteristics = append(svc.Characteristics, c.config())
	}
	if err := s.adapter.AddService(svc); err != nil {
		return err
	}
	for _, c := range s.chars {
		c.markPublished()
	}
	s.started = true
	return nil
}

type tinygoCharacteristic struct {
	uuid   string
	parsed bluetooth.UUID
	props  Property
	handle bluetooth.Characteristic

	mu        sync.Mutex
	value     []byte
	onWrite   func([]byte)
	published bool
}

func (c *tinygoCharacteristic) config() bluetooth.CharacteristicConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bluetooth.CharacteristicConfig{
		Handle:     &c.handle,
		UUID:       c.parsed,
		Value:      append([]byte(nil), c.value...),
		Flags:      tinygoPermissions(c.props),
		WriteEvent: c.handleWrite,
	}
}

func (c *tinygoCharacteristic) markPublished() {
	c.mu.Lock()
	c.published = true
	c.mu.Unlock()
}

func (c *tinygoCharacteristic) UUID() string { return c.uuid }

// SetValue stores the value locally. tinygo has no write-without-notify on
// a published handle, so the value reaches the stack on the next Notify.
func (c *tinygoCharacteristic) SetValue(data []byte) {
	c.mu.Lock()
	c.value = append(c.value[:0:0], data...)
	c.mu.Unlock()
}

func (c *tinygoCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *tinygoCharacteristic) Notify() error {
	c.mu.Lock()
	published := c.published
	value := c.value
	c.mu.Unlock()

	if !published {
		return errNotPublished
	}
	// Write updates the handle value and notifies subscribed centrals.
	_, err := c.handle.Write(value)
	return err
}

func (c *tinygoCharacteristic) OnWrite(fn func([]byte)) {
	c.mu.Lock()
	c.onWrite = fn
	c.mu.Unlock()
}

func (c *tinygoCharacteristic) handleWrite(_ bluetooth.Connection, _ int, value []byte) {
	cp := append([]byte(nil), value...)
	c.mu.Lock()
	c.value = cp
	fn := c.onWrite
	c.mu.Unlock()
	if fn != nil {
		fn(cp)
	}
}

func tinygoPermissions(props Property) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if props.Has(PropRead) {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if props.Has(PropWrite) {
		flags |= bluetooth.CharacteristicWritePermission
	}
	if props.Has(PropNotify) {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	return flags
}

type tinygoAdvertising struct {
	adapter *bluetooth.Adapter

	mu    sync.Mutex
	name  string
	uuids []bluetooth.UUID
	adv   *bluetooth.Advertisement
}

func (a *tinygoAdvertising) AddServiceUUID(uuid string) error {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidUUID, uuid, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.uuids {
		if existing == u {
			return nil
		}
	}
	a.uuids = append(a.uuids, u)
	return nil
}

// SetScanResponse is a no-op: tinygo lays out the scan response itself.
func (a *tinygoAdvertising) SetScanResponse(bool) {}

func (a *tinygoAdvertising) SetName(name string) {
	a.mu.Lock()
	a.name = name
	a.mu.Unlock()
}

func (a *tinygoAdvertising) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adv == nil {
		a.adv = a.adapter.DefaultAdvertisement()
	}
	opts := bluetooth.AdvertisementOptions{
		LocalName:    a.name,
		ServiceUUIDs: append([]bluetooth.UUID(nil), a.uuids...),
	}
	if err := a.adv.Configure(opts); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	return a.adv.Start()
}

func (a *tinygoAdvertising) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adv == nil {
		return nil
	}
	return a.adv.Stop()
}
