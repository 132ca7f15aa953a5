package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/PipeOpsHQ/pipehook/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
	ansiGreen = "\033[32m"
	ansiBlue  = "\033[34m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
)

// shouldUseColor respects NO_COLOR, CLICOLOR_FORCE, CLICOLOR and TTY detection.
func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func paint(on bool, code, s string) string {
	if !on {
		return s
	}
	return code + s + ansiReset
}

func methodColor(method string) string {
	switch method {
	case "GET", "HEAD":
		return ansiBlue
	case "DELETE":
		return ansiRed
	case "POST", "PUT", "PATCH":
		return ansiGreen
	default:
		return ansiCyan
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printEndpoint(w io.Writer, ep *store.Endpoint, limit int, verbose, color bool) {
	fmt.Fprintf(w, "Endpoint:  %s\n", ep.ID)
	fmt.Fprintf(w, "Created:   %s\n", ep.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "Expires:   %s (in %s)\n", ep.ExpiresAt.Local().Format(timeLayout), time.Until(ep.ExpiresAt).Round(time.Minute))
	fmt.Fprintf(w, "Requests:  %d\n", len(ep.Requests))
	if len(ep.Requests) == 0 {
		return
	}
	fmt.Fprintln(w)

	reqs := ep.Requests
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	if verbose {
		for _, r := range reqs {
			printRequest(w, r, true, color)
			fmt.Fprintln(w)
		}
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMETHOD\tSOURCE\tTYPE\tSIZE\tID")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Timestamp.Local().Format(timeLayout),
			paint(color, methodColor(r.Method), r.Method),
			r.SourceIP,
			orDash(r.ContentType),
			r.ContentLength,
			r.ID,
		)
	}
	tw.Flush()
	if len(reqs) < len(ep.Requests) {
		fmt.Fprintf(w, "\n... %d older requests (use --limit 0)\n", len(ep.Requests)-len(reqs))
	}
}

// printRequest writes one captured request; verbose adds headers and body.
func printRequest(w io.Writer, r *store.CapturedRequest, verbose, color bool) {
	fmt.Fprintf(w, "%s %s  %s  %s\n",
		paint(color, ansiDim, r.Timestamp.Local().Format(timeLayout)),
		paint(color, methodColor(r.Method), r.Method),
		r.SourceIP,
		paint(color, ansiDim, r.ID),
	)
	if !verbose {
		return
	}
	if len(r.Query) > 0 {
		q, _ := json.Marshal(r.Query)
		fmt.Fprintf(w, "  query: %s\n", q)
	}
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", paint(color, ansiCyan, k), r.Headers[k])
	}
	if r.Body != nil {
		body, err := json.MarshalIndent(r.Body, "  ", "  ")
		if err != nil {
			fmt.Fprintf(w, "  <unprintable body: %v>\n", err)
			return
		}
		fmt.Fprintf(w, "  %s\n", body)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
