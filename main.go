package main

import "github.com/kozaktomas/facetrack/cmd"

func main() {
	cmd.Execute()
}
