// Command cli bootstraps the superadmin account against a configured
// backend. The password is read from the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log"
	"os"

	"github.com/dmitrijs2005/mmarket/internal/cli"
	"github.com/dmitrijs2005/mmarket/internal/flagx"
	"github.com/dmitrijs2005/mmarket/internal/server"
	"github.com/dmitrijs2005/mmarket/internal/server/config"
)

func main() {

	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	username := fs.String("u", cfg.SuperAdminUsername, "superadmin username")
	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-u"})); err != nil {
		log.Fatalf("%v", err)
	}

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if _, err := cli.BootstrapSuperAdmin(context.Background(), app.Users(), *username, bufio.NewReader(os.Stdin), os.Stdout); err != nil {
		log.Printf("%v", err)
	}

}
