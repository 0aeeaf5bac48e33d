package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/chatclient"
	"github.com/go-go-golems/pawfect/pkg/geo"
)

func newRegisterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a pet owner account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settings(cmd, map[string]string{
				"client.base-url": "url",
				"geo.endpoint":    "geo-endpoint",
				"geo.api-key":     "geo-api-key",
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			req, query, err := registrationForm()
			if err != nil {
				return err
			}
			place, err := pickPlace(ctx, geo.New(s.Geo.Endpoint, s.Geo.APIKey, nil), query)
			if err != nil {
				return err
			}
			req.Address = place.DisplayName
			if err := req.Validate(); err != nil {
				return err
			}

			session, err := chatclient.NewSession(s.Client.BaseURL)
			if err != nil {
				return err
			}
			u, err := session.Register(ctx, req)
			if err != nil {
				return errors.Wrap(err, "register")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s). Start chatting with: pawfect chat --email %s\n",
				u.DisplayName(), place.Municipality(), u.Email)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("url", "http://localhost:8080", "backend base URL")
	f.String("geo-endpoint", geo.DefaultEndpoint, "address autocomplete endpoint")
	f.String("geo-api-key", "", "address autocomplete API key")
	return cmd
}

func registrationForm() (chatclient.RegisterRequest, string, error) {
	req := chatclient.RegisterRequest{Role: chat.RolePetOwner}
	var salary, query string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("First name").Value(&req.FirstName).Validate(required("first name")),
			huh.NewInput().Title("Last name").Value(&req.LastName).Validate(required("last name")),
			huh.NewInput().Title("Email").Value(&req.Email).Validate(func(s string) error {
				if !strings.Contains(s, "@") {
					return errors.New("a valid email is required")
				}
				return nil
			}),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&req.Password).Validate(func(s string) error {
				if len(s) < 8 {
					return errors.New("password must be at least 8 characters")
				}
				return nil
			}),
			huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&req.ConfirmPassword).Validate(func(s string) error {
				if s != req.Password {
					return errors.New("passwords do not match")
				}
				return nil
			}),
		),
		huh.NewGroup(
			huh.NewInput().Title("Birthdate").Placeholder("YYYY-MM-DD").Value(&req.Birthdate).Validate(validBirthdate),
			huh.NewSelect[string]().Title("Sex").Options(huh.NewOptions("Male", "Female")...).Value(&req.Sex),
			huh.NewInput().Title("Monthly salary").Placeholder("0").Value(&salary).Validate(func(s string) error {
				_, err := parseSalary(s)
				return err
			}),
			huh.NewInput().
				Title("Address").
				Description("Municipality or barangay in Sultan Kudarat").
				Value(&query).
				Validate(func(s string) error {
					if len([]rune(strings.TrimSpace(s))) < geo.MinQueryLength {
						return errors.Errorf("type at least %d characters", geo.MinQueryLength)
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return req, "", err
	}
	req.MonthlySalary, _ = parseSalary(salary)
	return req, query, nil
}

// pickPlace looks the address up and lets the user choose among the
// suggestions. Only places inside the service area can be confirmed.
func pickPlace(ctx context.Context, ac *geo.Autocompleter, query string) (geo.Place, error) {
	places, err := ac.Suggest(ctx, query)
	if err != nil {
		return geo.Place{}, errors.Wrap(err, "address lookup")
	}
	if len(places) == 0 {
		return geo.Place{}, errors.Errorf("no address found for %q", query)
	}

	options := make([]huh.Option[int], 0, len(places))
	for i, p := range places {
		label := p.DisplayName
		if geo.ValidateServiceArea(p) != nil {
			label += " (outside service area)"
		}
		options = append(options, huh.NewOption(label, i))
	}
	var idx int
	sel := huh.NewSelect[int]().
		Title("Choose your address").
		Options(options...).
		Value(&idx).
		Validate(func(i int) error { return geo.ValidateServiceArea(places[i]) })
	if err := huh.NewForm(huh.NewGroup(sel)).Run(); err != nil {
		return geo.Place{}, err
	}
	return places[idx], nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.Errorf("%s is required", field)
		}
		return nil
	}
}

func validBirthdate(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return errors.New("use the YYYY-MM-DD format")
	}
	if d.After(time.Now()) {
		return errors.New("birthdate cannot be in the future")
	}
	return nil
}

func parseSalary(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("enter a number")
	}
	if v < 0 {
		return 0, errors.New("monthly salary cannot be negative")
	}
	return v, nil
}
