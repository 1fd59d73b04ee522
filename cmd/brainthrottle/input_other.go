//go:build !linux

package main

import (
	"errors"
	"fmt"
	"os"
)

// readInputDevices runs one blocking reader per device. The first device
// failure is reported; done is not observed because plain reads can't be
// interrupted, and the files are closed on shutdown instead.
func readInputDevices(files []*os.File, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	if len(files) == 0 {
		readErr <- errors.New("no input devices provided")
		return
	}

	errs := make(chan error, len(files))
	for _, f := range files {
		go func(f *os.File) {
			inner := make(chan error, 1)
			readInputEvents(f, events, inner)
			errs <- fmt.Errorf("read from %s: %w", f.Name(), <-inner)
		}(f)
	}

	select {
	case err := <-errs:
		readErr <- err
	case <-done:
	}
}
