package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/httpapi"
	"github.com/ahrav/go-discover/internal/server"
)

type evaluateOptions struct {
	serverURL string
	brand     domain.Brand
	tier      string
	wait      bool
	poll      time.Duration
	timeout   time.Duration
}

func newEvaluateCommand(_ *rootOptions) *cobra.Command {
	o := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Start an evaluation on a running server and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			resp, err := o.run(ctx, &http.Client{Timeout: 30 * time.Second})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.serverURL, "server", "http://localhost:8080", "API base URL")
	f.StringVar(&o.brand.ID, "brand-id", "", "Brand identifier")
	f.StringVar(&o.brand.WebsiteURL, "url", "", "Brand website URL")
	f.StringVar(&o.brand.Name, "name", "", "Brand display name")
	f.StringVar(&o.tier, "tier", string(domain.TierFree), "Tier: free, index-pro or enterprise")
	f.BoolVar(&o.wait, "wait", true, "Poll until the evaluation is terminal")
	f.DurationVar(&o.poll, "poll", 5*time.Second, "Poll interval")
	f.DurationVar(&o.timeout, "timeout", 45*time.Minute, "Give up after this long")
	_ = cmd.MarkFlagRequired("brand-id")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func (o *evaluateOptions) run(ctx context.Context, hc *http.Client) (*server.EvaluationResponse, error) {
	base := strings.TrimSuffix(o.serverURL, "/") + "/api/v1/evaluations"
	body, err := json.Marshal(server.CreateEvaluationRequest{Brand: o.brand, Tier: domain.Tier(o.tier)})
	if err != nil {
		return nil, err
	}

	var resp server.EvaluationResponse
	if err := call(ctx, hc, http.MethodPost, base, body, &resp); err != nil {
		return nil, err
	}
	for o.wait && !resp.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return &resp, fmt.Errorf("evaluation %s still %s: %w", resp.ID, resp.Status, ctx.Err())
		case <-time.After(o.poll):
		}
		if err := call(ctx, hc, http.MethodGet, base+"/"+resp.ID, nil, &resp); err != nil {
			return nil, err
		}
	}
	return &resp, nil
}

func call(ctx context.Context, hc *http.Client, method, url string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 300 {
		var apiErr httpapi.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Field != "" {
				return fmt.Errorf("%s: %s: %s", res.Status, apiErr.Field, apiErr.Error)
			}
			return fmt.Errorf("%s: %s", res.Status, apiErr.Error)
		}
		return errors.New(res.Status)
	}
	return json.Unmarshal(data, out)
}
