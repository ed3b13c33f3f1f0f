package main

import (
	"github.com/studistack/classvault/cmd"
)

func main() {
	cmd.Execute()
}
