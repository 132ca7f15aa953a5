package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/pipehook/internal/client"
)

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new endpoint and make it the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Create(cmd.Context())
			if err != nil {
				return err
			}
			a.profile.Server = a.client.BaseURL()
			a.profile.Endpoint = resp.ID
			if err := saveProfile(a.profilePath, a.profile); err != nil {
				return fmt.Errorf("saving profile: %w", err)
			}
			if a.jsonOutput {
				return printJSON(a.out, resp)
			}
			fmt.Fprintf(a.out, "Endpoint:  %s\n", resp.ID)
			fmt.Fprintf(a.out, "URL:       %s\n", resp.URL)
			fmt.Fprintf(a.out, "Expires:   %s\n", resp.ExpiresAt.Local().Format(timeLayout))
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [endpoint-id]",
		Short: "Show an endpoint and its captured requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.endpointArg(args)
			if err != nil {
				return err
			}
			ep, err := a.client.Get(cmd.Context(), id)
			if err != nil {
				return notFoundHint(id, err)
			}
			if a.jsonOutput {
				return printJSON(a.out, ep)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			verbose, _ := cmd.Flags().GetBool("verbose")
			printEndpoint(a.out, ep, limit, verbose, a.color)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "show at most this many requests (0 for all)")
	cmd.Flags().BoolP("verbose", "v", false, "include headers and bodies")
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [endpoint-id]",
		Short: "Drop every captured request of an endpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.endpointArg(args)
			if err != nil {
				return err
			}
			if err := a.client.Clear(cmd.Context(), id); err != nil {
				return notFoundHint(id, err)
			}
			fmt.Fprintf(a.out, "Cleared history of %s\n", id)
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [endpoint-id]",
		Short: "Delete an endpoint before it expires",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.endpointArg(args)
			if err != nil {
				return err
			}
			if err := a.client.Delete(cmd.Context(), id); err != nil {
				return notFoundHint(id, err)
			}
			if a.profile.Endpoint == id {
				a.profile.Endpoint = ""
				if err := saveProfile(a.profilePath, a.profile); err != nil {
					return fmt.Errorf("saving profile: %w", err)
				}
			}
			fmt.Fprintf(a.out, "Deleted %s\n", id)
			return nil
		},
	}
}

func (a *app) urlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url [endpoint-id]",
		Short: "Print the capture URL of an endpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.endpointArg(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, a.client.BaseURL()+"/h/"+id)
			return nil
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [endpoint-id]",
		Short: "Send a test request to an endpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.endpointArg(args)
			if err != nil {
				return err
			}
			method, _ := cmd.Flags().GetString("method")
			contentType, _ := cmd.Flags().GetString("content-type")
			data, _ := cmd.Flags().GetString("data")

			var body []byte
			if data == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			} else {
				body = []byte(data)
			}

			resp, err := a.client.Send(cmd.Context(), id, strings.ToUpper(method), contentType, body)
			if err != nil {
				return notFoundHint(id, err)
			}
			if a.jsonOutput {
				return printJSON(a.out, resp)
			}
			fmt.Fprintf(a.out, "Captured %s at %s\n", resp.ID, resp.Timestamp.Local().Format(timeLayout))
			return nil
		},
	}
	cmd.Flags().StringP("method", "X", http.MethodPost, "HTTP method")
	cmd.Flags().StringP("content-type", "H", "application/json", "Content-Type header")
	cmd.Flags().StringP("data", "d", "", "request body, or - to read stdin")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show server counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(a.out, st)
			}
			if st.Endpoints != nil {
				fmt.Fprintf(a.out, "Endpoints:          %d\n", *st.Endpoints)
			}
			fmt.Fprintf(a.out, "Captures:           %d\n", st.Captures)
			fmt.Fprintf(a.out, "Live viewers:       %d\n", st.Subscribers)
			fmt.Fprintf(a.out, "Watched endpoints:  %d\n", st.WatchedEndpoints)
			fmt.Fprintf(a.out, "Dropped viewers:    %d\n", st.Dropped)
			return nil
		},
	}
}

// notFoundHint turns a 404 into something actionable.
func notFoundHint(id string, err error) error {
	if client.IsNotFound(err) {
		return fmt.Errorf("endpoint %s not found or expired", id)
	}
	return err
}
