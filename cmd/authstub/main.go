// Command authstub runs the in-memory credential authority for local
// development.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/mmarket/internal/authstub"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/golang-jwt/jwt/v5"
)

func main() {

	addr := flag.String("a", ":50051", "address and port to listen on")
	issuer := flag.String("i", "simple-micro-auth", "token issuer")
	keyFile := flag.String("k", "", "PEM file with the RSA signing key (generated when empty)")
	level := flag.String("l", "info", "log level")
	flag.Parse()

	logger := logging.New(os.Stdout, *level)

	var key *rsa.PrivateKey
	if *keyFile != "" {
		raw, err := os.ReadFile(*keyFile)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if key, err = jwt.ParseRSAPrivateKeyFromPEM(raw); err != nil {
			log.Fatalf("%v", err)
		}
	}

	stub, err := authstub.New(authstub.Options{Issuer: *issuer, Key: key, Logger: logger})
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := stub.Run(ctx, *addr); err != nil {
		log.Printf("%v", err)
	}

}
