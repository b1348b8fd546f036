package main

import "market-alerts/internal/cli"

func main() {
	cli.Execute()
}
