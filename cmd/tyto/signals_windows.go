//go:build windows

package main

import (
	"os"
)

// Windows has no SIGUSR1, config reloading is unavailable there.
func makeReloadChan() <-chan os.Signal {
	return make(chan os.Signal, 1)
}
