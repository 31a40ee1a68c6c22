package main

import "github.com/tpodg/staticnet/internal/cli"

func main() {
	cli.Execute()
}
