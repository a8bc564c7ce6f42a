package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// lookupRequest mirrors the planillas API request model.
type lookupRequest struct {
	ID    string `json:"id"`
	Year  string `json:"year"`
	Month string `json:"month"`
	Type  string `json:"type,omitempty"`
}

// lookupResponse mirrors the planillas API response model.
type lookupResponse struct {
	Data []struct {
		FormID         string `json:"form_id"`
		FormType       string `json:"form_type"`
		AmountOriginal string `json:"amount_original"`
		Status         string `json:"status"`
		Period         string `json:"period"`
	} `json:"data"`
	Result       string `json:"result"`
	Remarks      string `json:"remarks"`
	ErrorMessage string `json:"error_message"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// batchResponse mirrors the planillas batch API response.
type batchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// batchStatusResponse mirrors the planillas batch status API response.
type batchStatusResponse struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Results   []lookupResponse `json:"results"`
}

func main() {
	apiURL := os.Getenv("PLANILLAS_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PLANILLAS_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PLANILLAS_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"planillas",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	lookupTool := mcp.NewTool("lookup_payments",
		mcp.WithDescription("Look up the social-security payment forms filed for a person in one period. Lookups share a single browser session and run one at a time, so expect several seconds per call."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Identity document number of the person"),
		),
		mcp.WithString("year",
			mcp.Required(),
			mcp.Description("Four-digit period year, e.g. '2024'"),
		),
		mcp.WithString("month",
			mcp.Required(),
			mcp.Description("Period month, e.g. '03'"),
		),
		mcp.WithString("type",
			mcp.Description("Identity document type (default: NATIONAL_ID)"),
			mcp.Enum("NATIONAL_ID", "PASSPORT"),
		),
	)
	s.AddTool(lookupTool, handleLookup(apiURL, apiKey))

	batchTool := mcp.NewTool("batch_lookup",
		mcp.WithDescription("Run up to 50 payment lookups in order and return the outcome of each. Every entry is an object with id, year, month and optional type."),
		mcp.WithArray("lookups",
			mcp.Required(),
			mcp.Description("List of lookups: [{\"id\": \"...\", \"year\": \"2024\", \"month\": \"03\"}]"),
		),
	)
	s.AddTool(batchTool, handleBatchLookup(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the planillas API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			req.Header.Set("X-API-Key", apiKey)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

func handleLookup(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 300 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}
		year, err := request.RequireString("year")
		if err != nil {
			return mcp.NewToolResultError("year is required"), nil
		}
		month, err := request.RequireString("month")
		if err != nil {
			return mcp.NewToolResultError("month is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/lookup", lookupRequest{
			ID:    id,
			Year:  year,
			Month: month,
			Type:  request.GetString("type", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp lookupResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if resp.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)), nil
		}

		var sb strings.Builder
		writeOutcome(&sb, fmt.Sprintf("%s %s-%s", id, year, month), resp)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleBatchLookup(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := request.GetArguments()["lookups"]
		if !ok {
			return mcp.NewToolResultError("lookups is required"), nil
		}
		// Round-trip through JSON to accept any object shape the client sent.
		encoded, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid lookups: %v", err)), nil
		}
		var lookups []lookupRequest
		if err := json.Unmarshal(encoded, &lookups); err != nil || len(lookups) == 0 {
			return mcp.NewToolResultError("lookups must be a non-empty array of {id, year, month, type} objects"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/batch/lookup", map[string]any{
			"lookups": lookups,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
		}

		var batchResp batchResponse
		if err := json.Unmarshal(respBody, &batchResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch response: %v", err)), nil
		}
		if batchResp.ID == "" {
			return mcp.NewToolResultError("batch job creation failed: " + string(respBody)), nil
		}

		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/batch/"+batchResp.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling batch job failed: %v", err)), nil
		}

		var statusResp batchStatusResponse
		if err := json.Unmarshal(resultBody, &statusResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch status: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Batch %s: %s (%d/%d completed)\n\n", statusResp.ID, statusResp.Status, statusResp.Completed, statusResp.Total)
		for i, r := range statusResp.Results {
			label := fmt.Sprintf("[%d]", i+1)
			if i < len(lookups) {
				l := lookups[i]
				label = fmt.Sprintf("[%d] %s %s-%s", i+1, l.ID, l.Year, l.Month)
			}
			if r.Error != nil {
				fmt.Fprintf(&sb, "--- %s FAILED: %s ---\n\n", label, r.Error.Message)
				continue
			}
			writeOutcome(&sb, label, r)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func writeOutcome(sb *strings.Builder, label string, r lookupResponse) {
	fmt.Fprintf(sb, "--- %s: %s (%s) ---\n", label, r.Result, r.Remarks)
	if r.ErrorMessage != "" {
		fmt.Fprintf(sb, "error: %s\n", r.ErrorMessage)
	}
	for _, rec := range r.Data {
		fmt.Fprintf(sb, "form %s  type %s  amount %s  status %s  period %s\n",
			rec.FormID, rec.FormType, rec.AmountOriginal, rec.Status, rec.Period)
	}
	sb.WriteString("\n")
}
