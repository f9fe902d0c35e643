//go:build windows

package main

import (
	"os"
	"os/signal"
)

// signalChannel delivers Ctrl+C. The runtime maps CTRL_BREAK_EVENT and
// console close to os.Interrupt too.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
