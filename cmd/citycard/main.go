package main

import "github.com/jrsteele09/citycard-gateway/cmd/citycard/cmd"

func main() {
	cmd.Execute()
}
