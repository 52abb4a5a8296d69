package core

import "errors"

// ErrRunInProgress is returned when another ingestion run holds the run lock.
var ErrRunInProgress = errors.New("ingestion run already in progress")
