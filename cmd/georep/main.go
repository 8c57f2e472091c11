package main

import "github.com/turbolytics/georep/internal/cmd"

func main() {
	cmd.Execute()
}
