package ble

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a Peripheral.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateAdvertising
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// initialValue is written to every new characteristic.
var initialValue = Number(0)

// Option configures a Peripheral.
type Option func(*Peripheral)

// WithLogger sets the logger used for diagnostics. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Peripheral) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Peripheral is a single-connection BLE peripheral. It keeps UUID-keyed
// registries of the services and characteristics it created on the stack.
// All methods are safe for concurrent use.
type Peripheral struct {
	name   string
	stack  Stack
	logger *slog.Logger

	connected atomic.Bool

	mu              sync.Mutex
	server          Server
	advertising     bool
	services        map[string]*serviceEntry
	characteristics map[string]Characteristic

	notifyMu sync.Mutex
}

type serviceEntry struct {
	svc     Service
	started bool
}

// NewPeripheral creates a peripheral advertising under name. Nothing
// touches the stack until Begin.
func NewPeripheral(name string, stack Stack, opts ...Option) *Peripheral {
	p := &Peripheral{
		name:            name,
		stack:           stack,
		logger:          slog.Default(),
		services:        make(map[string]*serviceEntry),
		characteristics: make(map[string]Characteristic),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the device name.
func (p *Peripheral) Name() string { return p.name }

// Begin initializes the stack, creates the GATT server and installs the
// connection observer. Calling it again is a no-op.
func (p *Peripheral) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return nil
	}

	server, err := p.stack.Init(p.name)
	if err != nil {
		return fmt.Errorf("ble: init stack %q: %w", p.name, err)
	}
	server.SetObserver(&connectionObserver{connected: &p.connected, logger: p.logger})
	p.server = server

	p.logger.Info("[BLE] server initialized", "name", p.name)
	return nil
}

// AddService creates a service and registers its UUID with the
// advertising payload.
func (p *Peripheral) AddService(serviceUUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		p.logger.Warn("[BLE] server not initialized", "op", "add service")
		return ErrNotInitialized
	}

	key, err := normalizeUUID(serviceUUID)
	if err != nil {
		p.logger.Warn("[BLE] invalid service UUID", "uuid", serviceUUID)
		return err
	}
	if _, ok := p.services[key]; ok {
		p.logger.Warn("[BLE] service already exists", "uuid", key)
		return fmt.Errorf("%w: %s", ErrDuplicateService, key)
	}

	svc, err := p.server.CreateService(key)
	if err != nil {
		return fmt.Errorf("ble: create service %s: %w", key, err)
	}
	if err := p.stack.Advertising().AddServiceUUID(key); err != nil {
		return fmt.Errorf("ble: advertise service %s: %w", key, err)
	}
	p.services[key] = &serviceEntry{svc: svc}

	p.logger.Info("[BLE] service added", "uuid", key)
	return nil
}

// AddCharacteristic declares a readable, writable and notifiable
// characteristic within an existing, not yet started service.
func (p *Peripheral) AddCharacteristic(characteristicUUID, serviceUUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		p.logger.Warn("[BLE] server not initialized", "op", "add characteristic")
		return ErrNotInitialized
	}

	svcKey, err := normalizeUUID(serviceUUID)
	if err != nil {
		p.logger.Warn("[BLE] invalid service UUID", "uuid", serviceUUID)
		return err
	}
	charKey, err := normalizeUUID(characteristicUUID)
	if err != nil {
		p.logger.Warn("[BLE] invalid characteristic UUID", "uuid", characteristicUUID)
		return err
	}

	entry, ok := p.services[svcKey]
	if !ok {
		p.logger.Warn("[BLE] service does not exist", "uuid", svcKey)
		return fmt.Errorf("%w: %s", ErrUnknownService, svcKey)
	}
	if _, ok := p.characteristics[charKey]; ok {
		p.logger.Warn("[BLE] characteristic already exists", "uuid", charKey)
		return fmt.Errorf("%w: %s", ErrDuplicateCharacteristic, charKey)
	}
	if entry.started {
		p.logger.Warn("[BLE] service already started", "uuid", svcKey, "characteristic", charKey)
		return fmt.Errorf("%w: %s", ErrServiceStarted, svcKey)
	}

	char, err := entry.svc.CreateCharacteristic(charKey, DefaultProperties)
	if err != nil {
		return fmt.Errorf("ble: create characteristic %s: %w", charKey, err)
	}
	char.SetValue(initialValue.Bytes())
	p.characteristics[charKey] = char

	p.logger.Info("[BLE] characteristic added", "uuid", charKey, "service", svcKey)
	return nil
}

// StartService publishes a service on the stack. Starting an already
// started service is a no-op.
func (p *Peripheral) StartService(serviceUUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		p.logger.Warn("[BLE] server not initialized", "op", "start service")
		return ErrNotInitialized
	}
	key, err := normalizeUUID(serviceUUID)
	if err != nil {
		return err
	}
	entry, ok := p.services[key]
	if !ok {
		p.logger.Warn("[BLE] service does not exist", "uuid", key)
		return fmt.Errorf("%w: %s", ErrUnknownService, key)
	}
	return p.startServiceLocked(key, entry)
}

func (p *Peripheral) startServiceLocked(key string, entry *serviceEntry) error {
	if entry.started {
		return nil
	}
	if err := entry.svc.Start(); err != nil {
		return fmt.Errorf("ble: start service %s: %w", key, err)
	}
	entry.started = true
	p.logger.Info("[BLE] service started", "uuid", key)
	return nil
}

// StartAdvertising starts every pending service, then advertises the
// device name and all service UUIDs.
func (p *Peripheral) StartAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		p.logger.Warn("[BLE] server not initialized", "op", "start advertising")
		return ErrNotInitialized
	}

	keys := p.serviceKeysLocked()
	for _, key := range keys {
		if err := p.startServiceLocked(key, p.services[key]); err != nil {
			return err
		}
	}

	adv := p.stack.Advertising()
	for _, key := range keys {
		if err := adv.AddServiceUUID(key); err != nil {
			return fmt.Errorf("ble: advertise service %s: %w", key, err)
		}
	}
	adv.SetScanResponse(true)
	adv.SetName(p.name)
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	p.advertising = true

	p.logger.Info("[BLE] advertising started", "name", p.name, "services", len(keys))
	return nil
}

// StopAdvertising stops advertising. Existing connections are unaffected.
func (p *Peripheral) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		p.logger.Warn("[BLE] server not initialized", "op", "stop advertising")
		return ErrNotInitialized
	}
	if !p.advertising {
		return nil
	}
	if err := p.stack.Advertising().Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	p.advertising = false
	p.logger.Info("[BLE] advertising stopped")
	return nil
}

// Notify sets the characteristic value to payload and pushes it to the
// connected client. The value is unchanged when any step fails.
func (p *Peripheral) Notify(characteristicUUID string, payload Payload) error {
	if !p.connected.Load() {
		p.logger.Warn("[BLE] no client connected, cannot notify", "uuid", characteristicUUID)
		return ErrNotConnected
	}

	char, err := p.characteristic(characteristicUUID)
	if err != nil {
		return err
	}

	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	prev := append([]byte(nil), char.Value()...)
	char.SetValue(payload.Bytes())
	if err := char.Notify(); err != nil {
		// A failed push leaves the previous value in place.
		char.SetValue(prev)
		return fmt.Errorf("ble: notify %s: %w", char.UUID(), err)
	}
	p.logger.Debug("[BLE] notified", "uuid", char.UUID(), "bytes", payload.Len())
	return nil
}

// NotifyText is shorthand for Notify(uuid, Text(s)).
func (p *Peripheral) NotifyText(characteristicUUID, s string) error {
	return p.Notify(characteristicUUID, Text(s))
}

// Value returns a copy of the characteristic's current value.
func (p *Peripheral) Value(characteristicUUID string) ([]byte, error) {
	char, err := p.characteristic(characteristicUUID)
	if err != nil {
		return nil, err
	}
	v := char.Value()
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// OnWrite registers fn to receive values written by the central.
func (p *Peripheral) OnWrite(characteristicUUID string, fn func(data []byte)) error {
	char, err := p.characteristic(characteristicUUID)
	if err != nil {
		return err
	}
	char.OnWrite(fn)
	return nil
}

// IsClientConnected reports whether a central is connected.
func (p *Peripheral) IsClientConnected() bool {
	return p.connected.Load()
}

// State returns the current lifecycle state.
func (p *Peripheral) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.server == nil:
		return StateUninitialized
	case p.connected.Load():
		return StateConnected
	case p.advertising:
		return StateAdvertising
	default:
		return StateInitialized
	}
}

// Services returns the registered service UUIDs in sorted order.
func (p *Peripheral) Services() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serviceKeysLocked()
}

func (p *Peripheral) serviceKeysLocked() []string {
	keys := make([]string, 0, len(p.services))
	for k := range p.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Peripheral) characteristic(uuid string) (Characteristic, error) {
	key, err := normalizeUUID(uuid)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	char, ok := p.characteristics[key]
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("[BLE] characteristic does not exist", "uuid", key)
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacteristic, key)
	}
	return char, nil
}

// normalizeUUID returns the registry key for a UUID string.
func normalizeUUID(uuid string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(uuid))
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUUID)
	}
	return key, nil
}

// connectionObserver mirrors stack connection events into the
// peripheral's connected flag.
type connectionObserver struct {
	connected *atomic.Bool
	logger    *slog.Logger
}

func (o *connectionObserver) OnConnect() {
	o.connected.Store(true)
	o.logger.Info("[BLE] client connected")
}

func (o *connectionObserver) OnDisconnect() {
	o.connected.Store(false)
	o.logger.Info("[BLE] client disconnected")
}
