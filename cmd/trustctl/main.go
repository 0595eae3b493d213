// Command trustctl is the operator tool for trustcore: key generation,
// password hashing, schema migration, dry-run audit scoring and a local
// load test.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
