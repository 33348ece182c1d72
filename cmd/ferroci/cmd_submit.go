package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ferroci/internal/core"
)

func newSubmitCmd(a *app) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "submit [pipeline]",
		Short: "Send a pipeline to a running ferroci server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pipelinePath(args)
			data, err := os.ReadFile(path)
			if err != nil {
				return usageError(fmt.Errorf("read pipeline: %w", err))
			}
			format, err := core.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
			if err != nil {
				return usageError(err)
			}

			url := strings.TrimSuffix(serverURL, "/") + "/pipelines?format=" + string(format)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(data))
			if err != nil {
				return usageError(err)
			}
			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("send pipeline: %v", err)}
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusAccepted {
				var e struct {
					Error string `json:"error"`
				}
				msg := strings.TrimSpace(string(body))
				if json.Unmarshal(body, &e) == nil && e.Error != "" {
					msg = e.Error
				}
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("server rejected pipeline (%s): %s", resp.Status, msg)}
			}

			var accepted struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &accepted); err != nil {
				return fmt.Errorf("decode server response: %w", err)
			}
			st := newStyles(a.out)
			fmt.Fprintf(a.out, "%s submitted run %s (%s)\n", st.success.Render("✓"), accepted.ID, accepted.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "ferroci server URL")
	return cmd
}
