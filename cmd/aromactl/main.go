package main

import (
	"github.com/aromachat/authsync/cmd/aromactl/cmd"
)

func main() {
	cmd.Execute()
}
