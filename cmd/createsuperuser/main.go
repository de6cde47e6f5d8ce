// Command createsuperuser creates a superuser (or, with -staff, a staff
// account) through the account service.
//
// The password is read from ACCOUNT_PASSWORD when set, otherwise prompted for
// twice on the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup completes before exit.
func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	var in account.NewAccount
	fs := flag.NewFlagSet("createsuperuser", flag.ContinueOnError)
	fs.SetOutput(stderr)
	staff := fs.Bool("staff", false, "create a staff account instead of a superuser")
	fs.StringVar(&in.Email, "email", "", "email address (login identifier)")
	fs.StringVar(&in.Username, "username", "", "username")
	fs.StringVar(&in.FirstName, "first-name", "", "first name")
	fs.StringVar(&in.LastName, "last-name", "", "last name")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	pw, err := readPassword(stdin, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "password: %v\n", err)
		return 1
	}
	in.Password = pw

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := account.ConfigFromEnv()
	store, closeStore, err := repo.Open(ctx, cfg, sugar)
	if err != nil {
		fmt.Fprintf(stderr, "open account store: %v\n", err)
		return 1
	}
	defer closeStore()

	svc := account.NewService(store, cfg.Argon2, sugar.Named("account"), 1)
	create := svc.CreateSuperuser
	if *staff {
		create = svc.CreateStaffUser
	}
	a, err := create(ctx, in)
	if err != nil {
		fmt.Fprintln(stderr, describe(err))
		return 1
	}
	fmt.Fprintf(stdout, "created %s account %d (%s)\n", a.Tier, a.ID, a.DisplayIdentifier())
	return 0
}

func readPassword(stdin *os.File, stderr io.Writer) (string, error) {
	if pw := os.Getenv("ACCOUNT_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		// piped input: first line is the password
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(stderr, "Password (again): ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords didn't match")
	}
	return string(first), nil
}

func describe(err error) string {
	var verr *entity.ValidationError
	var derr *entity.DuplicateFieldError
	switch {
	case errors.As(err, &verr) && verr.Field == entity.FieldPassword:
		return "error: " + verr.Error() + " (set ACCOUNT_PASSWORD or type it at the prompt)"
	case errors.As(err, &verr):
		return "error: " + verr.Error() + " (use -" + strings.ReplaceAll(verr.Field, "_", "-") + ")"
	case errors.As(err, &derr):
		return "error: " + derr.Error()
	}
	return "error: " + err.Error()
}
