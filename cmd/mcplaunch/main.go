// Command mcplaunch starts an external server module from a configured path
// and reports whether it loaded.
package main

import "os"

func main() {
	os.Exit(Execute())
}
