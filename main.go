package main

import "crypto-monitor/internal/cli"

func main() {
	cli.Execute()
}
