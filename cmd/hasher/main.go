package main

import (
	"fmt"

	"github.com/technosupport/flowforge/internal/auth"
)

func main() {
	hash, _ := auth.HashPassword("adminpassword")
	fmt.Println(hash)
}
