package main

import "github.com/IvanDubrovin-std/ovpn-control/cmd/ovpn-agent/cmd"

func main() {
	cmd.Execute()
}
