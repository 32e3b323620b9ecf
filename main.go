package main

import (
	"github.com/boneskull/midnight-smoker-sub006/cmd"
)

func main() {
	cmd.Execute()
}
