// Command phaser is the CLI entry point for the audit-automation toolchain.
package main

func main() {
	Execute()
}
