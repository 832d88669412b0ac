// Package main is the entry point for the orch CLI and daemon.
package main

func main() {
	Execute()
}
