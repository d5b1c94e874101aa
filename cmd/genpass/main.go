package main

import (
	"fmt"

	"github.com/technosupport/flowforge/internal/auth"
)

func main() {
	hash, err := auth.HashPassword("password")
	if err != nil {
		panic(err)
	}
	fmt.Println(hash)
}
