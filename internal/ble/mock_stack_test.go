package ble

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// mockStack records every call the peripheral makes into the stack.
type mockStack struct {
	mu        sync.Mutex
	initCalls int
	initErr   error
	server    *mockServer
	adv       *mockAdvertising
}

func newMockStack() *mockStack {
	return &mockStack{adv: &mockAdvertising{}}
}

func (s *mockStack) Init(name string) (Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	if s.initErr != nil {
		return nil, s.initErr
	}
	s.server = &mockServer{name: name, services: make(map[string]*mockService)}
	return s.server, nil
}

func (s *mockStack) Advertising() Advertising { return s.adv }

func (s *mockStack) InitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initCalls
}

// SimulateConnect delivers a connect event the way the stack would.
func (s *mockStack) SimulateConnect() { s.server.observer().OnConnect() }

// SimulateDisconnect delivers a disconnect event.
func (s *mockStack) SimulateDisconnect() { s.server.observer().OnDisconnect() }

type mockServer struct {
	mu       sync.Mutex
	name     string
	obs      ConnectionObserver
	services map[string]*mockService
	created  int
}

func (s *mockServer) SetObserver(obs ConnectionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = obs
}

func (s *mockServer) observer() ConnectionObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs
}

func (s *mockServer) CreateService(uuid string) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	svc := &mockService{uuid: uuid, chars: make(map[string]*mockCharacteristic)}
	s.services[uuid] = svc
	return svc, nil
}

type mockService struct {
	mu         sync.Mutex
	uuid       string
	chars      map[string]*mockCharacteristic
	startCalls int
}

func (s *mockService) UUID() string { return s.uuid }

func (s *mockService) CreateCharacteristic(uuid string, props Property) (Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &mockCharacteristic{uuid: uuid, props: props}
	s.chars[uuid] = c
	return c, nil
}

func (s *mockService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	return nil
}

func (s *mockService) StartCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

type mockCharacteristic struct {
	mu        sync.Mutex
	uuid      string
	props     Property
	value     []byte
	setCalls  int
	notified  [][]byte
	notifyErr error
	onWrite   func([]byte)
}

func (c *mockCharacteristic) UUID() string { return c.uuid }

func (c *mockCharacteristic) SetValue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls++
	c.value = append([]byte(nil), data...)
}

func (c *mockCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *mockCharacteristic) Notify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyErr != nil {
		return c.notifyErr
	}
	c.notified = append(c.notified, append([]byte(nil), c.value...))
	return nil
}

func (c *mockCharacteristic) OnWrite(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// SimulateWrite delivers a central write.
func (c *mockCharacteristic) SimulateWrite(data []byte) {
	c.mu.Lock()
	c.value = append([]byte(nil), data...)
	fn := c.onWrite
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (c *mockCharacteristic) Notified() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.notified...)
}

func (c *mockCharacteristic) SetCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setCalls
}

type mockAdvertising struct {
	mu           sync.Mutex
	uuids        []string
	scanResponse bool
	name         string
	startCalls   int
	stopCalls    int
	startErr     error
	addErr       error
}

func (a *mockAdvertising) AddServiceUUID(uuid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.addErr != nil {
		return a.addErr
	}
	a.uuids = append(a.uuids, uuid)
	return nil
}

func (a *mockAdvertising) SetScanResponse(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanResponse = enabled
}

func (a *mockAdvertising) SetName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = name
}

func (a *mockAdvertising) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.startCalls++
	return nil
}

func (a *mockAdvertising) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCalls++
	return nil
}

func (a *mockAdvertising) UUIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.uuids...)
}

var errMockStack = errors.New("mock: stack failure")

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMockStackImplementsInterface(t *testing.T) {
	var _ Stack = (*mockStack)(nil)
	var _ Server = (*mockServer)(nil)
	var _ Service = (*mockService)(nil)
	var _ Characteristic = (*mockCharacteristic)(nil)
	var _ Advertising = (*mockAdvertising)(nil)
}
