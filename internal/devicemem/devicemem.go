// Package devicemem provides an in-memory model of a board's memory-mapped devices.
//
// It backs the reference KATCP and gateway mock servers used in tests, so a
// blind write followed by a read of the same range returns the written bytes.
package devicemem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNoSuchDevice indicates that the named device does not exist.
	ErrNoSuchDevice = errors.New("no such device")
	// ErrOutOfRange indicates an access beyond the end of a device.
	ErrOutOfRange = errors.New("access out of range")
	// ErrDeviceExists indicates that a device with the same name was already added.
	ErrDeviceExists = errors.New("device already exists")
)

type device struct {
	mu  sync.RWMutex
	mem []byte
}

// Store is a concurrency-safe set of named, byte-addressable devices.
type Store struct {
	devices *xsync.MapOf[string, *device]

	mu    sync.Mutex // guards order
	order []string

	image      []byte
	programmed bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{devices: xsync.NewMapOf[string, *device]()}
}

// Add creates a zero-filled device of size bytes.
func (s *Store) Add(name string, size int) error {
	if size < 0 {
		return fmt.Errorf("device %s: negative size %d", name, size)
	}

	_, loaded := s.devices.LoadOrStore(name, &device{mem: make([]byte, size)})
	if loaded {
		return fmt.Errorf("%w: %s", ErrDeviceExists, name)
	}

	s.mu.Lock()
	s.order = append(s.order, name)
	s.mu.Unlock()

	return nil
}

// MustAdd is Add for test fixtures; it panics on error.
func (s *Store) MustAdd(name string, size int) *Store {
	if err := s.Add(name, size); err != nil {
		panic(err)
	}

	return s
}

// Names returns the device names in the order they were added.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.order...)
}

// Read returns a copy of size bytes of device name starting at offset.
func (s *Store) Read(name string, offset int, size int) ([]byte, error) {
	dev, ok := s.devices.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDevice, name)
	}

	dev.mu.RLock()
	defer dev.mu.RUnlock()

	if offset < 0 || size < 0 || offset+size > len(dev.mem) {
		return nil, fmt.Errorf("%w: %s [%d, %d) of %d bytes", ErrOutOfRange, name, offset, offset+size, len(dev.mem))
	}

	out := make([]byte, size)
	copy(out, dev.mem[offset:offset+size])

	return out, nil
}

// Write copies data into device name at offset.
func (s *Store) Write(name string, offset int, data []byte) error {
	dev, ok := s.devices.Load(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchDevice, name)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if offset < 0 || offset+len(data) > len(dev.mem) {
		return fmt.Errorf("%w: %s [%d, %d) of %d bytes", ErrOutOfRange, name, offset, offset+len(data), len(dev.mem))
	}
	copy(dev.mem[offset:], data)

	return nil
}

// Program stores image as the loaded bitstream and marks the store programmed.
func (s *Store) Program(image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.image = append([]byte(nil), image...)
	s.programmed = true
}

// Programmed reports whether an image has been loaded.
func (s *Store) Programmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.programmed
}

// Image returns a copy of the last programmed image.
func (s *Store) Image() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.image...)
}
