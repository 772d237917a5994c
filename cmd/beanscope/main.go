package main

import "github.com/YuminosukeSato/beanscope/cmd/beanscope/cmd"

func main() {
	cmd.Execute()
}
