package main

import (
	"cotrack/cmd"
)

func main() {
	cmd.Execute()
}
