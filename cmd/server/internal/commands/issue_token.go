package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atendo/atendo/internal/token"
	"github.com/google/uuid"
)

// IssueTokenCmd signs an access token offline with the server's signing key.
type IssueTokenCmd struct {
	Email      string        `arg:"" help:"Email claim of the token"`
	Subject    string        `help:"Subject identifier (a new UUID when empty)" default:""`
	Role       string        `help:"Role claim" default:""`
	TTL        time.Duration `help:"Token lifetime" default:"1h"`
	SigningKey string        `help:"path to a PEM encoded EC private key" required:"" env:"ATENDO_SIGNING_KEY"`
}

func (c *IssueTokenCmd) Run(ctx context.Context) error {
	if c.TTL <= 0 {
		return errors.New("ttl must be positive")
	}

	keys, err := loadKeyManager(c.SigningKey)
	if err != nil {
		return err
	}

	subject := c.Subject
	if subject == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate subject: %w", err)
		}
		subject = id.String()
	}

	signed, err := keys.Issue(subject, token.Claims{Email: c.Email, Role: c.Role}, c.TTL, time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, signed)
	return nil
}
