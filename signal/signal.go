// Package signal owns process-level interrupt handling: it catches the
// termination signals, fans the shutdown request out to the daemon and
// reports when the handler has wound down.
package signal

import (
	"os"
	"os/signal"
	"syscall"
)

var (
	// interruptChannel receives the caught OS signals.
	interruptChannel = make(chan os.Signal, 1)

	// shutdownRequestChannel requests a graceful shutdown from within
	// the application, mirroring an OS interrupt.
	shutdownRequestChannel = make(chan struct{})

	// quit is closed when instructing the main interrupt handler to
	// exit.
	quit = make(chan struct{})

	// shutdownChannel is closed once the main interrupt handler exits.
	shutdownChannel = make(chan struct{})
)

func init() {
	signalsToCatch := []os.Signal{
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	}
	signal.Notify(interruptChannel, signalsToCatch...)
	go mainInterruptHandler()
}

// mainInterruptHandler listens for OS signals and internal shutdown
// requests, collapsing repeated signals into a single shutdown. It must run
// as a goroutine.
func mainInterruptHandler() {
	var isShutdown bool

	shutdown := func() {
		// Ignore more than one shutdown signal.
		if isShutdown {
			log.Infof("Already shutting down...")
			return
		}
		isShutdown = true
		log.Infof("Shutting down...")

		close(quit)
	}

	for {
		select {
		case sig := <-interruptChannel:
			log.Infof("Received %v", sig)
			shutdown()

		case <-shutdownRequestChannel:
			log.Infof("Received shutdown request.")
			shutdown()

		case <-quit:
			log.Infof("Gracefully shutting down.")
			close(shutdownChannel)
			return
		}
	}
}

// Alive returns true if the main interrupt handler has not been killed.
func Alive() bool {
	select {
	case <-quit:
		return false
	default:
		return true
	}
}

// RequestShutdown initiates a graceful shutdown from the application.
func RequestShutdown() {
	select {
	case shutdownRequestChannel <- struct{}{}:
	case <-quit:
	}
}

// ShutdownChannel returns the channel that will be closed once the main
// interrupt handler has exited.
func ShutdownChannel() <-chan struct{} {
	return shutdownChannel
}
