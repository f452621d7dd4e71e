package cli

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/spf13/cobra"
)

func newReputationCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reputation",
		Short: "Query the reputation API directly",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prefix <cidr>",
		Short: "Report whether any address of a prefix is flagged malicious",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := netip.ParsePrefix(args[0])
			if err != nil {
				return fmt.Errorf("invalid prefix %q: %w", args[0], err)
			}
			prefix = prefix.Masked()

			lookup, closeCache, err := a.lookuper(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()

			malicious, err := lookup.LookupPrefix(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			w, err := a.writer()
			if err != nil {
				return err
			}
			return w.WriteJSON(struct {
				Prefix    string `json:"prefix"`
				Malicious bool   `json:"malicious"`
			}{prefix.String(), malicious})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "asn <asn>",
		Short: "Show the categories and known-bad ranges attributed to an ASN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asn, err := parseASN(args[0])
			if err != nil {
				return err
			}

			lookup, closeCache, err := a.lookuper(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()

			rep, err := lookup.LookupASN(cmd.Context(), asn)
			if err != nil {
				return err
			}
			w, err := a.writer()
			if err != nil {
				return err
			}
			return w.WriteJSON(rep)
		},
	})
	return cmd
}

// parseASN accepts "65000" or "AS65000".
func parseASN(s string) (uint32, error) {
	if len(s) > 2 && (s[:2] == "AS" || s[:2] == "as") {
		s = s[2:]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ASN %q", s)
	}
	return uint32(n), nil
}
