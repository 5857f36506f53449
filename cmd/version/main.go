package main

import (
	"fmt"

	"github.com/noetl/noetl-sub007/internal/buildinfo"
)

func main() {
	info := buildinfo.GetInfo()
	fmt.Println(info.String())
}
