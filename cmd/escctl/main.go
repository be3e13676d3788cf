package main

import (
	"os"

	"github.com/hmyuuu/escalationd/internal/cliutil"
)

func main() {
	os.Exit(int(cliutil.Run()))
}
