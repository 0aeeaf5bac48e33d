package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/pawfect/pkg/geo"
)

func newAddressCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address QUERY...",
		Short: "Look up address suggestions and check them against the service area",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings(cmd, map[string]string{
				"geo.endpoint": "geo-endpoint",
				"geo.api-key":  "geo-api-key",
			})
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			places, err := geo.New(s.Geo.Endpoint, s.Geo.APIKey, nil).Suggest(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(places) == 0 {
				_, _ = fmt.Fprintf(out, "no suggestions for %q\n", query)
				return nil
			}
			for _, p := range places {
				status := "ok"
				if err := geo.ValidateServiceArea(p); err != nil {
					status = "outside service area"
				}
				_, _ = fmt.Fprintf(out, "%-22s %-20s %s\n", status, p.Municipality(), p.DisplayName)
			}
			return nil
		},
	}
	cmd.Flags().String("geo-endpoint", geo.DefaultEndpoint, "address autocomplete endpoint")
	cmd.Flags().String("geo-api-key", "", "address autocomplete API key")
	return cmd
}
