package main

import "github.com/javanhut/brokkr/cli"

func main() {
	cli.Execute()
}
