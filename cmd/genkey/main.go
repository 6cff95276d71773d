package main

import (
	"encoding/base64"
	"fmt"

	"github.com/eldtechnologies/hush/clients/go/hush"
)

func main() {
	pub, priv, err := hush.GenerateKeypair()
	if err != nil {
		panic(err)
	}

	fmt.Printf("Public key (base64):  %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))
}
