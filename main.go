package main

import "github.com/edgeflare/itemetl/cmd/itemetl"

func main() {
	itemetl.Main()
}
