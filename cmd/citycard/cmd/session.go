package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/citycard-gateway/gateway"
	"github.com/jrsteele09/citycard-gateway/notify"
	"github.com/jrsteele09/citycard-gateway/router"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		return withGateway(cmd.Context(), func(ctx context.Context, g *gateway.Gateway) error {
			res, err := g.Login(ctx, loginEmail, password)
			if err != nil {
				return err
			}
			u := g.CurrentUser()
			fmt.Printf("Signed in as %s <%s> (%s)\n", u.Name, u.Email, u.Role)
			printResult(res)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, g *gateway.Gateway) error {
			if !g.IsLoggedIn() {
				fmt.Println("Not signed in")
				return nil
			}
			res, err := g.Logout(ctx)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, g *gateway.Gateway) error {
			u := g.CurrentUser()
			if u == nil {
				fmt.Println("Not signed in")
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(u); err != nil {
				return err
			}
			if exp, ok := g.Session.Current().ExpiresAt(); ok {
				fmt.Printf("Access token expires %s\n", exp.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew the access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, g *gateway.Gateway) error {
			if !g.IsLoggedIn() {
				return errors.New("not signed in")
			}
			if _, err := g.Session.Refresh(ctx); err != nil {
				return err
			}
			fmt.Println("Access token renewed")
			return nil
		})
	},
}

var visitCmd = &cobra.Command{
	Use:   "visit <path>",
	Short: "Navigate to a view through the guard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, g *gateway.Gateway) error {
			res, err := g.Visit(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (prompted when omitted)")
	_ = loginCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, refreshCmd, visitCmd)
}

// withGateway builds a gateway from the loaded settings, restores the stored
// session and runs fn.
func withGateway(ctx context.Context, fn func(context.Context, *gateway.Gateway) error) error {
	g, err := gateway.New(ctx, settings,
		gateway.WithOnNotify(printNotification),
		gateway.WithLogger(log.Logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close gateway")
		}
	}()

	if err := g.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, g)
}

func printNotification(n *notify.Notification) {
	if n == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Level, n.Message)
}

func printResult(res *router.Result) {
	if res == nil || res.Location == nil {
		return
	}
	suffix := ""
	if res.Redirected {
		suffix = " (redirected)"
	}
	fmt.Printf("→ %s  %s  [%s]%s\n", res.Location.FullPath, res.Title, res.Layout, suffix)
}
