package main

import (
	"log"

	pricefeedd "dusd/services/pricefeedd"
)

func main() {
	if err := pricefeedd.Main(); err != nil {
		log.Fatalf("pricefeedd: %v", err)
	}
}
