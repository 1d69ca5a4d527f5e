package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"geominer/siren/pkg/auth"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// parseTTL parses a lifetime like "90m", "24h", or "7d". Day units are not
// part of Go's duration syntax, so "Nd" is rewritten to hours first; only
// whole positive day counts are accepted.
func parseTTL(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid day duration %q (use a whole positive count, e.g. 7d)", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

// splitRoles parses a comma-separated role list, trimming whitespace and
// dropping empty entries
func splitRoles(s string) []string {
	var roles []string
	for _, role := range strings.Split(s, ",") {
		role = strings.TrimSpace(role)
		if role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func newTokenCmd() *cobra.Command {
	var subject string
	var email string
	var username string
	var rolesFlag string
	var secret string
	var ttl string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token for the relay",
		Long: `Mint an HMAC-signed bearer token accepted by a relay running with the
same signing secret. Development tooling only; production tokens come from
the identity provider.

Examples:
  sirenctl token --roles VIEWER
  sirenctl token --subject ops-1 --roles SUPER_ADMIN,ADMIN --ttl 7d
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = viper.GetString("jwt_secret")
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: pass --secret or set SIREN_JWT_SECRET")
			}

			roles := splitRoles(rolesFlag)
			if len(roles) == 0 {
				return fmt.Errorf("--roles is required (e.g. --roles VIEWER)")
			}

			lifetime, err := parseTTL(ttl)
			if err != nil {
				return err
			}

			token, err := auth.GenerateToken(subject, email, username, roles, []byte(secret), lifetime)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "dev-user", "token subject")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	cmd.Flags().StringVar(&rolesFlag, "roles", "", "comma-separated roles (e.g. VIEWER or SUPER_ADMIN,ADMIN)")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret (or SIREN_JWT_SECRET)")
	cmd.Flags().StringVar(&ttl, "ttl", "24h", "token lifetime (e.g. 90m, 24h, 7d)")

	return cmd
}
