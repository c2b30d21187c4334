// Command overstory is the thin CLI boundary surface named in §6:
// mail, session, and config operations that shell out to the same
// coordination-core packages the watchdog daemon uses. The CLI itself
// is an external collaborator relative to the core's own contracts —
// it just happens to be the reference client this repo ships.
package main

func main() {
	Execute()
}
