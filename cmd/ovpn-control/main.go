package main

import "github.com/IvanDubrovin-std/ovpn-control/cmd/ovpn-control/cmd"

func main() {
	cmd.Execute()
}
