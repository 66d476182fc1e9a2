package watch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/scriptsrunner/internal/dispatch"
	"github.com/mattjoyce/scriptsrunner/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Running       int    `json:"running"`
	Queued        int    `json:"queued"`
	MaxConcurrent int    `json:"max_concurrent"`
	ScanError     string `json:"scan_error"`
}

type scriptsMsg []dispatch.ScriptView

type actionDoneMsg struct {
	action string
	path   string
	err    error
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// client talks to the scriptsrunner HTTP API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) client {
	return client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c client) newRequest(method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c client) getJSON(path string, v any) error {
	req, err := c.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// --- Commands ---

func (c client) fetchHealth() tea.Msg {
	var h healthMsg
	if err := c.getJSON("/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

func (c client) fetchScripts() tea.Msg {
	var views []dispatch.ScriptView
	if err := c.getJSON("/scripts", &views); err != nil {
		return errMsg(err)
	}
	return scriptsMsg(views)
}

// post sends a per-script action such as "run" or "cancel".
func (c client) post(action, path string, body any) tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest(http.MethodPost, "/scripts/"+action, body)
		if err != nil {
			return actionDoneMsg{action: action, path: path, err: err}
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return actionDoneMsg{action: action, path: path, err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			var e struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&e)
			return actionDoneMsg{action: action, path: path, err: fmt.Errorf("%s: %s", resp.Status, e.Error)}
		}
		return actionDoneMsg{action: action, path: path}
	}
}

func (c client) rescan() tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest(http.MethodPost, "/rescan", nil)
		if err != nil {
			return errMsg(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return errMsg(err)
		}
		_ = resp.Body.Close()
		return c.fetchScripts()
	}
}

// subscribe connects to /events and feeds parsed events into ch. It returns
// sseDisconnectedMsg when the stream ends.
func (c client) subscribe(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest(http.MethodGet, "/events", nil)
		if err != nil {
			return errMsg(err)
		}
		stream := &http.Client{}
		resp, err := stream.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for {
			ev, ok := readSSE(scanner)
			if !ok {
				return sseDisconnectedMsg{}
			}
			ch <- ev
		}
	}
}

// readSSE reads one event frame. Comment lines and empty frames are skipped.
func readSSE(scanner *bufio.Scanner) (events.Event, bool) {
	var ev events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(ev.Data) > 0 {
				if ev.At.IsZero() {
					ev.At = time.Now()
				}
				return ev, true
			}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				ev.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			ev.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			ev.Data = []byte(line[6:])
		}
	}
	return events.Event{}, false
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
