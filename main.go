package main

import "mini-ledger/cmd"

func main() {
	cmd.Execute()
}
