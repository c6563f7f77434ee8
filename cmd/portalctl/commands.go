package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"nuam-capital/portal/internal/auth"
	"nuam-capital/portal/internal/config"
	"nuam-capital/portal/internal/mailer"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

const usage = `usage: portalctl <command> [flags]

commands:
  create-user      create a user with profile
  enable-mfa       turn email MFA on or off for a user
  seed-empresa     create the demo company
  send-test-email  send a test message through the configured SMTP relay
  migrate          apply database migrations`

type cli struct {
	cfg   config.Config
	store store.Store
	auth  *auth.Service
	mail  mailer.Sender
	out   io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "create-user":
		return c.createUser(ctx, args[1:])
	case "enable-mfa":
		return c.enableMFA(ctx, args[1:])
	case "seed-empresa":
		return c.seedEmpresa(ctx, args[1:])
	case "send-test-email":
		return c.sendTestEmail(ctx, args[1:])
	case "migrate":
		return c.migrate(ctx)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (c *cli) createUser(ctx context.Context, args []string) error {
	fs := newFlagSet("create-user", c.out)
	username := fs.String("username", "", "login name (required)")
	email := fs.String("email", "", "email address, receives MFA codes and reset links")
	password := fs.String("password", "", "initial password, 6 characters to 72 bytes")
	role := fs.String("role", string(model.RoleCorredor), "ADMIN, CORREDOR or ANALISTA")
	firstName := fs.String("first-name", "", "first name")
	lastName := fs.String("last-name", "", "last name")
	empresa := fs.String("empresa", "", "empresa id")
	staff := fs.Bool("staff", false, "grant staff access")
	mfa := fs.Bool("mfa", false, "require an emailed code at login")
	if err := fs.Parse(args); err != nil {
		return err
	}

	acc, err := c.auth.CreateAccount(ctx, auth.NewAccount{
		Username:  *username,
		Email:     *email,
		Password:  *password,
		FirstName: *firstName,
		LastName:  *lastName,
		Role:      model.Role(strings.ToUpper(strings.TrimSpace(*role))),
		EmpresaID: *empresa,
		IsStaff:   *staff,
		EnableMFA: *mfa,
	})
	if errors.Is(err, store.ErrConflict) {
		return errors.New("username or email already exists")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created user %s (%s, id %s, mfa %t)\n",
		acc.User.Username, acc.Profile.Role, acc.ID(), acc.Profile.MFAEnabled())
	return nil
}

func (c *cli) enableMFA(ctx context.Context, args []string) error {
	fs := newFlagSet("enable-mfa", c.out)
	username := fs.String("username", "", "login name (required)")
	disable := fs.Bool("disable", false, "turn MFA off instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("-username is required")
	}

	acc, err := c.store.GetAccountByUsername(ctx, strings.TrimSpace(*username))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %q not found", *username)
	}
	if err != nil {
		return err
	}
	if acc, err = c.auth.SetMFA(ctx, acc.ID(), !*disable); err != nil {
		return err
	}

	state := "enabled"
	if !acc.Profile.MFAEnabled() {
		state = "disabled"
	}
	fmt.Fprintf(c.out, "mfa %s for %s\n", state, acc.User.Username)
	return nil
}

func (c *cli) seedEmpresa(ctx context.Context, args []string) error {
	fs := newFlagSet("seed-empresa", c.out)
	rut := fs.String("rut", "76.123.456-7", "RUT")
	nombre := fs.String("nombre", "NUAM Capital", "razón social")
	giro := fs.String("giro", "Servicios Financieros y Inversiones", "giro")
	direccion := fs.String("direccion", "Av. Apoquindo 3000, Las Condes, Santiago", "dirección")
	telefono := fs.String("telefono", "+56 2 2345 6789", "teléfono")
	email := fs.String("email", "contacto@nuamcapital.cl", "email de contacto")
	owner := fs.String("owner", "", "username of the owning user")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e := model.Empresa{
		Rut:       *rut,
		Nombre:    *nombre,
		Giro:      *giro,
		Direccion: *direccion,
		Telefono:  *telefono,
		Email:     *email,
	}
	if *owner != "" {
		acc, err := c.store.GetAccountByUsername(ctx, *owner)
		if err != nil {
			return fmt.Errorf("owner %q: %w", *owner, err)
		}
		e.UsuarioID = acc.ID()
	}

	created, err := c.store.CreateEmpresa(ctx, e)
	if errors.Is(err, store.ErrConflict) {
		fmt.Fprintf(c.out, "empresa %s already exists\n", e.Rut)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created empresa %s (%s, id %s)\n", created.Nombre, created.Rut, created.ID)
	return nil
}

func (c *cli) sendTestEmail(ctx context.Context, args []string) error {
	fs := newFlagSet("send-test-email", c.out)
	to := fs.String("to", c.cfg.SMTP.From, "recipient")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*to) == "" {
		return errors.New("-to is required")
	}

	fmt.Fprintf(c.out, "smtp host %q port %d tls %t user %q\n",
		c.cfg.SMTP.Host, c.cfg.SMTP.Port, c.cfg.SMTP.TLS, c.cfg.SMTP.Username)

	err := c.mail.Send(ctx, mailer.Message{
		Subject: "Prueba de Email - NUAM Capital",
		Plain: `Este es un email de prueba.
Si lo recibes, la configuración de email funciona correctamente.

Saludos,
Equipo NUAM Capital`,
		HTML: `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<h2 style="color: #1a365d;">NUAM Capital - Prueba Exitosa</h2>
<p>Este es un email de prueba.</p>
<p>Si lo recibes, la configuración de email funciona correctamente.</p>
</div>`,
		From: c.cfg.SMTP.From,
		To:   []string{strings.TrimSpace(*to)},
	})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintf(c.out, "test email sent to %s\n", strings.TrimSpace(*to))
	return nil
}

func (c *cli) migrate(ctx context.Context) error {
	m, ok := c.store.(interface {
		Migrate(ctx context.Context) error
	})
	if !ok {
		return errors.New("migrate needs NUAM_DATABASE_URL")
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "migrations applied")
	return nil
}
