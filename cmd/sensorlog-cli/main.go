package main

import "sensorlog/cli"

func main() {
	cli.Execute()
}
