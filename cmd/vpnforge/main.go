package main

import "github.com/vpnforge/vpnforge/cmd/vpnforge/cmd"

func main() {
	cmd.Execute()
}
