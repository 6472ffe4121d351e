// README: Applies or rolls back the embedded schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"ridematch/internal/config"
	"ridematch/internal/infra"
)

func main() {
	steps := flag.Int("steps", 0, "with down: number of migrations to roll back (0 = all)")
	dsn := flag.String("dsn", "", "postgres DSN; defaults to db.dsn from config")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-dsn url] [-steps n] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if *dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		*dsn = cfg.DB.DSN
	}
	if err := run(flag.Arg(0), *dsn, *steps); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd, dsn string, steps int) error {
	m, err := infra.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if verr != nil {
			return verr
		}
		fmt.Printf("version %d (dirty=%v)\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("no change")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("migrate %s: ok\n", cmd)
	return nil
}
