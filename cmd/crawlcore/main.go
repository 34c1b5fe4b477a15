package main

import "github.com/rohmanhakim/crawlcore/internal/cliapp"

func main() {
	cliapp.Execute()
}
