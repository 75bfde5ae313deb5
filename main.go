package main

import "github.com/vibast-solutions/ms-go-gateways/cmd"

func main() {
	cmd.Execute()
}
