package main

import "cinepro/cmd"

func main() {
	cmd.Execute()
}
