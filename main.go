package main

import "github.com/mkleve522/zzimage/cmd"

func main() {
	cmd.Execute()
}
