package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// apiClient is a thin JSON client for the daemon's operator endpoints.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: strings.TrimSuffix(CLI.Server, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return derrors.InternalError("encode request", err)
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return derrors.InternalError("daemon unreachable", err)
	}
	return c.decode(resp, out)
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return derrors.InternalError("daemon unreachable", err)
	}
	return c.decode(resp, out)
}

func (c *apiClient) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return derrors.InternalError(msg, nil)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// buildView mirrors the daemon's build status responses; active builds and
// history summaries carry the same fields under the same names.
type buildView struct {
	BuildID  string `json:"build_id"`
	ID       string `json:"id"`
	Pipeline string `json:"pipeline"`
	Status   string `json:"status"`
	Revision any    `json:"revision"`
	Label    string `json:"label"`

	ErrorStage    string `json:"error_stage"`
	ErrorMessage  string `json:"error_message"`
	BlockedGate   string `json:"blocked_gate"`
	BlockedReason string `json:"blocked_reason"`
}

func runTrigger() error {
	client := newAPIClient()

	var out struct {
		BuildID string `json:"build_id"`
		Status  string `json:"status"`
	}
	err := client.post("/api/trigger", map[string]any{
		"pipeline": CLI.Trigger.Pipeline,
		"ref":      CLI.Trigger.Ref,
		"hash":     CLI.Trigger.Hash,
		"stages":   CLI.Trigger.Stages,
	}, &out)
	if err != nil {
		return err
	}

	fmt.Printf("build %s %s\n", out.BuildID, out.Status)
	if !CLI.Trigger.Wait {
		return nil
	}
	return waitForBuild(client, out.BuildID)
}

// waitForBuild polls the build until it is terminal and maps the outcome to
// the exit-code contract: promoted 0, blocked 1, anything else 2.
func waitForBuild(client *apiClient, buildID string) error {
	for {
		var view buildView
		if err := client.get("/api/builds/"+buildID, &view); err != nil {
			return err
		}
		switch view.Status {
		case "promoted":
			fmt.Printf("build %s promoted", buildID)
			if view.Label != "" {
				fmt.Printf(" as %s", view.Label)
			}
			fmt.Println()
			return nil
		case "blocked":
			return derrors.GateBlocked(view.BlockedGate, view.BlockedReason)
		case "failed":
			return derrors.StageFailed(view.ErrorStage, fmt.Errorf("%s", view.ErrorMessage))
		case "cancelled":
			return derrors.InternalError("build superseded", nil)
		}
		time.Sleep(2 * time.Second)
	}
}

func runStatus(buildID string) error {
	client := newAPIClient()

	var raw json.RawMessage
	if err := client.get("/api/builds/"+buildID, &raw); err != nil {
		return err
	}
	return printJSON(raw)
}

func runRollback(pipeline, label string) error {
	client := newAPIClient()

	var rec struct {
		Label    string            `json:"label"`
		BuildID  string            `json:"build_id"`
		Revision revision.Revision `json:"revision"`
	}
	if err := client.post("/api/rollback", map[string]string{
		"pipeline": pipeline,
		"label":    label,
	}, &rec); err != nil {
		return err
	}
	fmt.Printf("%s active artifact now %s (build %s, revision %s)\n",
		pipeline, rec.Label, rec.BuildID, rec.Revision)
	return nil
}

func runPromoteHistory(pipeline string) error {
	client := newAPIClient()

	var hist struct {
		Active    string `json:"active"`
		Artifacts []struct {
			Label       string            `json:"label"`
			BuildID     string            `json:"build_id"`
			Revision    revision.Revision `json:"revision"`
			PublishedAt time.Time         `json:"published_at"`
		} `json:"artifacts"`
	}
	if err := client.get("/api/history/"+pipeline, &hist); err != nil {
		return err
	}

	for _, rec := range hist.Artifacts {
		marker := " "
		if rec.Label == hist.Active {
			marker = "*"
		}
		fmt.Printf("%s %-12s %s  %s  build %s\n",
			marker, rec.Label, rec.PublishedAt.Format(time.RFC3339), rec.Revision, rec.BuildID)
	}
	if len(hist.Artifacts) == 0 {
		fmt.Printf("no artifacts published for %s\n", pipeline)
	}
	return nil
}

func runDiff(pipeline, from, to string) error {
	client := newAPIClient()

	var cs struct {
		From    revision.Revision `json:"from"`
		To      revision.Revision `json:"to"`
		Files   []string          `json:"files"`
		Authors []string          `json:"authors"`
	}
	path := fmt.Sprintf("/api/diff/%s?from=%s&to=%s", pipeline, url.QueryEscape(from), url.QueryEscape(to))
	if err := client.get(path, &cs); err != nil {
		return err
	}

	fmt.Printf("%s: %s -> %s\n", pipeline, cs.From, cs.To)
	if len(cs.Authors) > 0 {
		fmt.Printf("authors: %s\n", strings.Join(cs.Authors, ", "))
	}
	for _, f := range cs.Files {
		fmt.Println("  " + f)
	}
	if len(cs.Files) == 0 {
		fmt.Println("no file changes between labels")
	}
	return nil
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}
