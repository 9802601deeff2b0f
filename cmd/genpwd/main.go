package main

import "github.com/VBlackJack/genpwd-pro-sub017/cmd/genpwd/cmd"

func main() {
	cmd.Execute()
}
