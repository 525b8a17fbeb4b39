package main

import "github.com/trobanga/s2ingest/cmd"

func main() {
	cmd.Execute()
}
