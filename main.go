package main

import "github.com/climateandtech/carbonara-sub000/internal/cli"

func main() {
	cli.Execute()
}
