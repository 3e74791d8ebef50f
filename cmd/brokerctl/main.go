// brokerctl is a small client for a running brokerd instance. It covers the
// day-to-day operations: checking availability, firing queries, following a
// stream, and cancelling a stuck request.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"brokerd/pkg/types"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:           "brokerctl",
		Short:         "Client for a running brokerd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "brokerd base URL")

	client := &http.Client{Timeout: 5 * time.Minute}

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show CLI availability and pool occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st types.StatusResponse
			if err := getJSON(client, addr+"/status", &st); err != nil {
				return err
			}
			fmt.Printf("installed:     %v (%s)\n", st.Installed, st.Version)
			fmt.Printf("authenticated: %v (%s)\n", st.Authenticated, st.Account)
			fmt.Printf("slots:         %d/%d active, %d queued\n", st.ActiveSlots, st.Capacity, st.Queued)
			if st.LastError != "" {
				fmt.Printf("last error:    %s\n", st.LastError)
			}
			return nil
		},
	})

	var model string
	var maxTokens, timeoutSeconds int
	query := &cobra.Command{
		Use:   "query [prompt]",
		Short: "Run one completion and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.QueryRequest{
				Prompt:         strings.Join(args, " "),
				Model:          model,
				MaxTokens:      maxTokens,
				TimeoutSeconds: timeoutSeconds,
			}
			var resp types.QueryResponse
			if err := postJSON(client, addr+"/v1/query", req, &resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("%s: %s", resp.ErrorKind, resp.Error)
			}
			fmt.Println(resp.Content)
			return nil
		},
	}
	query.Flags().StringVar(&model, "model", "", "Model selector")
	query.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max output tokens (0=default)")
	query.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 0, "Request timeout (0=default)")
	root.AddCommand(query)

	root.AddCommand(&cobra.Command{
		Use:   "stream [prompt]",
		Short: "Run one completion, printing output as it arrives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(types.QueryRequest{Prompt: strings.Join(args, " ")})
			resp, err := client.Post(addr+"/v1/stream", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				tail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("http %s: %s", resp.Status, tail)
			}
			sc := bufio.NewScanner(resp.Body)
			for sc.Scan() {
				var line struct {
					Type      string `json:"type"`
					RequestID string `json:"request_id"`
					Text      string `json:"text"`
					Success   bool   `json:"success"`
					ErrorKind string `json:"error_kind"`
					Error     string `json:"error"`
				}
				if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
					return fmt.Errorf("bad stream line: %w", err)
				}
				switch line.Type {
				case "start":
					fmt.Fprintf(os.Stderr, "request %s\n", line.RequestID)
				case "chunk":
					fmt.Print(line.Text)
				case "done":
					fmt.Println()
					if !line.Success {
						return fmt.Errorf("%s: %s", line.ErrorKind, line.Error)
					}
				}
			}
			return sc.Err()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "cancel [request-id]",
		Short: "Cancel a live request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.CancelResponse
			if err := postJSON(client, addr+"/v1/cancel/"+args[0], nil, &resp); err != nil {
				return err
			}
			if !resp.Cancelled {
				return fmt.Errorf("request %s not found or already finished", args[0])
			}
			fmt.Println("cancelled")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "chat [message]",
		Short: "Send a chat message (falls back to the remote API if needed)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.FeatureResponse
			req := types.ChatRequest{Message: strings.Join(args, " ")}
			if err := postJSON(client, addr+"/v1/chat", req, &resp); err != nil {
				return err
			}
			path := "remote"
			if resp.ViaCLI {
				path = "cli"
			}
			fmt.Fprintf(os.Stderr, "via %s\n", path)
			fmt.Println(resp.Content)
			return nil
		},
	})

	return root
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(client *http.Client, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(b)))
		}
		return err
	}
	return nil
}
