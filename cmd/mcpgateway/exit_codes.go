package main

// Process exit codes
const (
	ExitCodeSuccess      = 0
	ExitCodeGeneralError = 1
	// ExitCodePortConflict: the management listen address is in use
	ExitCodePortConflict = 2
	// ExitCodeDBLocked: another process holds the activity database
	ExitCodeDBLocked    = 3
	ExitCodeConfigError = 4
	// ExitCodeValidationFailed: validate found at least one bad manifest
	ExitCodeValidationFailed = 5
)
