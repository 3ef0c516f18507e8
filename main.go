package main

import "github.com/quintetdev/quintet/internal/cmd"

func main() {
	cmd.Execute()
}
