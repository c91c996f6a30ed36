package main

import "github.com/yoanbernabeu/indexsync/cli"

func main() {
	cli.Execute()
}
