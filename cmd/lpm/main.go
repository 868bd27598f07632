package main

import "github.com/goplus/lpm/cmd/lpm/internal"

func main() {
	internal.Execute()
}
