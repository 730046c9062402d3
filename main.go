package main

import "github.com/tombh/rust-gpu-cli/cmd"

func main() {
	cmd.Execute()
}
