package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/tidewallet/tidewallet/addrmgr"
	"github.com/tidewallet/tidewallet/build"
	"github.com/tidewallet/tidewallet/explorer"
	"github.com/tidewallet/tidewallet/scanner"
	"github.com/tidewallet/tidewallet/signal"
	"github.com/tidewallet/tidewallet/wallet"
	"github.com/tidewallet/tidewallet/walletdb"
)

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it will write to the backend. When adding
// new subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	logWriter = &build.LogWriter{}

	// backendLog is the logging backend used to create all subsystem
	// loggers. The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences
	// will occur.
	backendLog = btclog.NewBackend(logWriter)

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	tideLog = build.NewSubLogger("TIDE", backendLog.Logger)
	xplrLog = build.NewSubLogger("XPLR", backendLog.Logger)
	scanLog = build.NewSubLogger("SCAN", backendLog.Logger)
	wlltLog = build.NewSubLogger("WLLT", backendLog.Logger)
	addrLog = build.NewSubLogger("ADDR", backendLog.Logger)
	wldbLog = build.NewSubLogger("WLDB", backendLog.Logger)
	sgnlLog = build.NewSubLogger("SGNL", backendLog.Logger)
)

// Initialize package-global logger variables.
func init() {
	explorer.UseLogger(xplrLog)
	scanner.UseLogger(scanLog)
	wallet.UseLogger(wlltLog)
	addrmgr.UseLogger(addrLog)
	walletdb.UseLogger(wldbLog)
	signal.UseLogger(sgnlLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"TIDE": tideLog,
	"XPLR": xplrLog,
	"SCAN": scanLog,
	"WLLT": wlltLog,
	"ADDR": addrLog,
	"WLDB": wldbLog,
	"SGNL": sgnlLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, maxLogFileSize int, maxLogFiles int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n",
			err)
		os.Exit(1)
	}
	r, err := rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n",
			err)
		os.Exit(1)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.RotatorPipe = pw
	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
