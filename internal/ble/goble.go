package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-ble/ble"
)

// GoBLEDevice is the subset of ble.Device used by GoBLEStack.
type GoBLEDevice interface {
	AddService(svc *ble.Service) error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
}

// DeviceFactory creates the go-ble device (can be overridden in tests).
var DeviceFactory = newGoBLEDevice

// GoBLEStack implements Stack on top of go-ble/ble. go-ble has no
// peripheral connect callback, so connections are tracked from the first
// GATT request of each ble.Conn until its Disconnected channel closes.
type GoBLEStack struct {
	device  GoBLEDevice
	tracker *connTracker
	adv     *gobleAdvertising
}

// NewGoBLEStack creates an uninitialized go-ble stack.
func NewGoBLEStack() *GoBLEStack {
	return &GoBLEStack{
		tracker: newConnTracker(),
		adv:     &gobleAdvertising{},
	}
}

func (s *GoBLEStack) Init(name string) (Server, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("create device: %w", NormalizeError(err))
	}
	s.device = dev
	s.adv.setDevice(dev)
	s.adv.SetName(name)
	return &gobleServer{device: dev, tracker: s.tracker}, nil
}

func (s *GoBLEStack) Advertising() Advertising { return s.adv }

// Compile-time check that GoBLEStack implements Stack.
var _ Stack = (*GoBLEStack)(nil)

type gobleServer struct {
	device  GoBLEDevice
	tracker *connTracker
}

func (s *gobleServer) SetObserver(obs ConnectionObserver) {
	s.tracker.setObserver(obs)
}

func (s *gobleServer) CreateService(uuid string) (Service, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidUUID, uuid, err)
	}
	return &gobleService{
		uuid:    uuid,
		svc:     ble.NewService(u),
		device:  s.device,
		tracker: s.tracker,
	}, nil
}

type gobleService struct {
	uuid    string
	svc     *ble.Service
	device  GoBLEDevice
	tracker *connTracker

	mu      sync.Mutex
	started bool
}

func (s *gobleService) UUID() string { return s.uuid }

func (s *gobleService) CreateCharacteristic(uuid string, props Property) (Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidUUID, uuid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrServiceStarted
	}

	gc := &gobleCharacteristic{
		uuid:      uuid,
		tracker:   s.tracker,
		notifiers: make(map[ble.Notifier]struct{}),
	}
	c := s.svc.NewCharacteristic(u)
	if props.Has(PropRead) {
		c.HandleRead(ble.ReadHandlerFunc(gc.serveRead))
	}
	if props.Has(PropWrite) {
		c.HandleWrite(ble.WriteHandlerFunc(gc.serveWrite))
	}
	if props.Has(PropNotify) {
		c.HandleNotify(ble.NotifyHandlerFunc(gc.serveNotify))
	}
	gc.char = c
	return gc, nil
}

func (s *gobleService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.device.AddService(s.svc); err != nil {
		return NormalizeError(err)
	}
	s.started = true
	return nil
}

type gobleCharacteristic struct {
	uuid    string
	char    *ble.Characteristic
	tracker *connTracker

	mu        sync.Mutex
	value     []byte
	onWrite   func([]byte)
	notifiers map[ble.Notifier]struct{}
}

func (c *gobleCharacteristic) UUID() string { return c.uuid }

func (c *gobleCharacteristic) SetValue(data []byte) {
	c.mu.Lock()
	c.value = append(c.value[:0:0], data...)
	c.mu.Unlock()
}

func (c *gobleCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Notify writes the current value to every subscribed central.
func (c *gobleCharacteristic) Notify() error {
	c.mu.Lock()
	value := c.value
	notifiers := make([]ble.Notifier, 0, len(c.notifiers))
	for n := range c.notifiers {
		notifiers = append(notifiers, n)
	}
	c.mu.Unlock()

	var errs []error
	for _, n := range notifiers {
		if _, err := n.Write(value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *gobleCharacteristic) OnWrite(fn func([]byte)) {
	c.mu.Lock()
	c.onWrite = fn
	c.mu.Unlock()
}

func (c *gobleCharacteristic) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notifiers)
}

func (c *gobleCharacteristic) serveRead(req ble.Request, rsp ble.ResponseWriter) {
	c.tracker.seen(req.Conn())

	c.mu.Lock()
	value := c.value
	c.mu.Unlock()

	if off := req.Offset(); off > 0 {
		if off >= len(value) {
			return
		}
		value = value[off:]
	}
	if _, err := rsp.Write(value); err != nil {
		slog.Warn("[BLE] read response failed", "uuid", c.uuid, "error", err)
	}
}

func (c *gobleCharacteristic) serveWrite(req ble.Request, _ ble.ResponseWriter) {
	c.tracker.seen(req.Conn())

	data := append([]byte(nil), req.Data()...)
	c.mu.Lock()
	c.value = data
	fn := c.onWrite
	c.mu.Unlock()

	if fn != nil {
		fn(data)
	}
}

// serveNotify runs for the lifetime of a subscription.
func (c *gobleCharacteristic) serveNotify(req ble.Request, n ble.Notifier) {
	c.tracker.seen(req.Conn())

	c.mu.Lock()
	c.notifiers[n] = struct{}{}
	c.mu.Unlock()

	slog.Debug("[BLE] notify subscribed", "uuid", c.uuid)
	<-n.Context().Done()

	c.mu.Lock()
	delete(c.notifiers, n)
	c.mu.Unlock()
	slog.Debug("[BLE] notify unsubscribed", "uuid", c.uuid)
}

// connTracker turns per-request ble.Conn sightings into connect and
// disconnect events.
type connTracker struct {
	mu    sync.Mutex
	obs   ConnectionObserver
	conns map[string]struct{}
}

func newConnTracker() *connTracker {
	return &connTracker{conns: make(map[string]struct{})}
}

func (t *connTracker) setObserver(obs ConnectionObserver) {
	t.mu.Lock()
	t.obs = obs
	t.mu.Unlock()
}

func (t *connTracker) seen(conn ble.Conn) {
	if conn == nil {
		return
	}
	key := conn.RemoteAddr().String()

	t.mu.Lock()
	if _, ok := t.conns[key]; ok {
		t.mu.Unlock()
		return
	}
	t.conns[key] = struct{}{}
	obs := t.obs
	t.mu.Unlock()

	if obs != nil {
		obs.OnConnect()
	}

	go func() {
		<-conn.Disconnected()
		t.mu.Lock()
		delete(t.conns, key)
		obs := t.obs
		t.mu.Unlock()
		if obs != nil {
			obs.OnDisconnect()
		}
	}()
}

type gobleAdvertising struct {
	mu     sync.Mutex
	device GoBLEDevice
	name   string
	uuids  []ble.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *gobleAdvertising) setDevice(dev GoBLEDevice) {
	a.mu.Lock()
	a.device = dev
	a.mu.Unlock()
}

func (a *gobleAdvertising) AddServiceUUID(uuid string) error {
	u, err := ble.Parse(uuid)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidUUID, uuid, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.uuids {
		if existing.Equal(u) {
			return nil
		}
	}
	a.uuids = append(a.uuids, u)
	return nil
}

// SetScanResponse is a no-op: go-ble moves the name into the scan
// response when the advertising packet is full.
func (a *gobleAdvertising) SetScanResponse(bool) {}

func (a *gobleAdvertising) SetName(name string) {
	a.mu.Lock()
	a.name = name
	a.mu.Unlock()
}

// Start advertises in the background until Stop. Calling Start while
// advertising restarts with the current payload.
func (a *gobleAdvertising) Start() error {
	if err := a.Stop(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device == nil {
		return ErrNotInitialized
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	dev, name := a.device, a.name
	uuids := append([]ble.UUID(nil), a.uuids...)
	go func() {
		defer close(done)
		err := dev.AdvertiseNameAndServices(ctx, name, uuids...)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("[BLE] advertising stopped", "error", NormalizeError(err))
		}
	}()
	a.cancel, a.done = cancel, done
	return nil
}

func (a *gobleAdvertising) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
