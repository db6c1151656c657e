package main

import "github.com/spool-dl/spool/cmd"

func main() {
	cmd.Execute()
}
