package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes. Values follow the numbering used by other encrypted
// filesystem tools so scripts can tell failures apart.
const (
	// Usage error like wrong syntax or a missing argument
	exitUsage = 1
	// exitDriveDir means the drive directory does not exist or is not a drive
	exitDriveDir = 6
	// exitInit is an error while creating a drive
	exitInit = 7
	// exitLoadConf is an error while loading the drive config
	exitLoadConf = 8
	// exitReadPassword means the password could not be read
	exitReadPassword = 9
	exitOther        = 11
	// exitPasswordIncorrect is returned on unlock failure
	exitPasswordIncorrect = 12
	// exitSigInt means the operation was interrupted
	exitSigInt = 15
	// exitCtlSock means the sequencer socket could not be created or reached
	exitCtlSock = 20
	// exitPasswordEmpty means an empty password was entered
	exitPasswordEmpty = 22
	// exitWriteConf means the drive config could not be written
	exitWriteConf = 24
	// exitTransfer means some files of an import or export failed
	exitTransfer = 26
	// exitSequencer means the nonce sequencer refused or failed
	exitSequencer = 28
)

// exitErr carries an exit code with an error.
type exitErr struct {
	error
	code int
}

func (e exitErr) Unwrap() error { return e.error }

func newExitErr(code int, err error) error {
	return exitErr{error: err, code: code}
}

func exitf(code int, format string, args ...any) error {
	return exitErr{error: fmt.Errorf(format, args...), code: code}
}

// exitCode extracts the exit code of err, exitOther if it has none.
func exitCode(err error) int {
	var e exitErr
	if errors.As(err, &e) {
		return e.code
	}
	return exitOther
}

func exit(err error) {
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "salmon: %v\n", err)
	os.Exit(exitCode(err))
}
