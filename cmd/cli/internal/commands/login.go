package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atendo/atendo/internal/config"
)

type LoginCmd struct {
	Email    string `arg:"" optional:"" help:"Account email (defaults to the email in the config file)"`
	Password string `help:"Account password" env:"ATENDO_PASSWORD"`
	Remember bool   `help:"Save the email to the config file" default:"false"`
}

// stdin supplies the password when it is not passed as a flag.
var stdin io.Reader = os.Stdin

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := openSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	email := c.Email
	if email == "" {
		email = s.cfg.Email
	}
	if email == "" {
		return errors.New("email is required\n\nUsage:\n  atendo login <email>")
	}

	password := c.Password
	if password == "" {
		password, err = readPassword(stdin)
		if err != nil {
			return err
		}
	}

	if err := s.manager.Login(ctx, email, password); err != nil {
		return fmt.Errorf("login failed: %s", s.manager.State().Error)
	}

	if c.Remember {
		if err := rememberEmail(globals.Config, email); err != nil {
			return err
		}
	}

	state := s.manager.State()
	fmt.Fprintf(stdout, "Logged in as %s (%s)\n", state.User.DisplayName(), state.User.Email)
	if at, ok := s.manager.NextRefreshAt(); ok {
		fmt.Fprintf(stdout, "Access token refreshes at %s\n", at.Local().Format("15:04:05"))
	}

	return nil
}

func readPassword(r io.Reader) (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func rememberEmail(path, email string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if path == "" {
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	cfg.Email = email
	return cfg.Save(path)
}
