package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Drift is a finding, not a failure: verify already printed the
		// report, so exit nonzero without the error banner.
		if errors.Is(err, errVerifyDrift) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
