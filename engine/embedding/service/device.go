package service

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
)

var unsafeDeviceChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// deviceClaim is an exclusive, process-lifetime claim on a compute device,
// backed by an advisory file lock so two services cannot share one device.
type deviceClaim struct {
	device string
	lock   *flock.Flock
}

func claimDevice(dir, device string) (*deviceClaim, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("device %s: ensure lock directory: %w", device, err)
	}
	name := "kb-embed-" + unsafeDeviceChars.ReplaceAllString(device, "_") + ".lock"
	lock := flock.New(filepath.Join(dir, name))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("device %s: acquire claim: %w", device, err)
	}
	if !ok {
		return nil, fmt.Errorf("device %s: already claimed by another process (%s)", device, lock.Path())
	}
	return &deviceClaim{device: device, lock: lock}, nil
}

func (c *deviceClaim) release() error {
	if c == nil || c.lock == nil {
		return nil
	}
	return c.lock.Unlock()
}
