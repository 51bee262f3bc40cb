package bdd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chirino/agent-datastore/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		m := &mcpSteps{s: s}
		ctx.Step(`^I call the MCP tool "([^"]*)"$`, m.iCallTheTool)
		ctx.Step(`^I call the MCP tool "([^"]*)" with arguments:$`, m.iCallTheToolWithArguments)
		ctx.Step(`^the tool result should be an error$`, m.theToolResultShouldBeAnError)
		ctx.Step(`^the tool result should not be an error$`, m.theToolResultShouldNotBeAnError)
	})
}

type mcpSteps struct {
	s       *cucumber.TestScenario
	nextID  int
	isError bool
}

type toolCallResponse struct {
	Result *struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (m *mcpSteps) iCallTheTool(name string) error {
	return m.call(name, map[string]any{})
}

func (m *mcpSteps) iCallTheToolWithArguments(name string, doc *godog.DocString) error {
	expanded, err := m.s.Expand(doc.Content)
	if err != nil {
		return err
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(expanded), &args); err != nil {
		return fmt.Errorf("tool arguments are not a json object: %w", err)
	}
	return m.call(name, args)
}

// call posts a tools/call request to /mcp and replaces the session response
// body with the tool's JSON text content.
func (m *mcpSteps) call(name string, args map[string]any) error {
	m.nextID++
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      m.nextID,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		return err
	}

	session := m.s.Session()
	session.Header.Set("Accept", "application/json, text/event-stream")
	err = m.s.SendHTTPRequestWithJSONBodyAndStyle("POST", m.s.Suite.APIURL+"/mcp",
		&godog.DocString{Content: string(body)}, false, true)
	if err != nil {
		return err
	}
	if session.Resp.StatusCode != 200 {
		m.isError = true
		return nil
	}

	var resp toolCallResponse
	if err := json.Unmarshal(jsonRPCPayload(session.Resp.Header.Get("Content-Type"), session.RespBytes), &resp); err != nil {
		return fmt.Errorf("invalid MCP response: %w\n%s", err, session.RespBytes)
	}
	if resp.Error != nil {
		return fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil || len(resp.Result.Content) == 0 {
		return fmt.Errorf("MCP response has no content:\n%s", session.RespBytes)
	}
	m.isError = resp.Result.IsError
	session.SetRespBytes([]byte(resp.Result.Content[0].Text))
	return nil
}

// jsonRPCPayload extracts the JSON-RPC message from either a plain JSON body
// or a single-event SSE stream.
func jsonRPCPayload(contentType string, body []byte) []byte {
	if !strings.HasPrefix(contentType, "text/event-stream") {
		return body
	}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		if data, ok := strings.CutPrefix(scanner.Text(), "data:"); ok {
			return []byte(strings.TrimSpace(data))
		}
	}
	return body
}

func (m *mcpSteps) theToolResultShouldBeAnError() error {
	if !m.isError {
		return fmt.Errorf("expected tool error, got: %s", m.s.Session().RespBytes)
	}
	return nil
}

func (m *mcpSteps) theToolResultShouldNotBeAnError() error {
	if m.isError {
		return fmt.Errorf("unexpected tool error: %s", m.s.Session().RespBytes)
	}
	return nil
}
