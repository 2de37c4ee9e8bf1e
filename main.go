package main

import "github.com/xoriors/cryptfs/cmd"

func main() {
	cmd.Execute()
}
