// Command arachnectl talks to a running arachne daemon over its NATS control
// subject. It does not touch the store or the web API, so it works even when
// the web server is disabled.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
)

const controlSubject = "arachne.ctl"

type ctlRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ctlResponse struct {
	OK           bool       `json:"ok,omitempty"`
	Error        string     `json:"error,omitempty"`
	Version      string     `json:"version,omitempty"`
	Uptime       string     `json:"uptime,omitempty"`
	Stats        *ctlStats  `json:"stats,omitempty"`
	Agents       []ctlAgent `json:"agents,omitempty"`
	Added        int        `json:"added,omitempty"`
	Transitioned int        `json:"transitioned,omitempty"`
}

type ctlStats struct {
	Agents          int            `json:"agents"`
	ByRole          map[string]int `json:"by_role"`
	ByStatus        map[string]int `json:"by_status"`
	PendingSwitches int            `json:"pending_switches"`
	Frontier        struct {
		Queued    int `json:"queued"`
		Claimed   int `json:"claimed"`
		Crawling  int `json:"crawling"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
		Blocked   int `json:"blocked"`
		Seen      int `json:"seen"`
		Domains   int `json:"domains"`
	} `json:"frontier"`
	Bus struct {
		Published     uint64 `json:"published"`
		Delivered     uint64 `json:"delivered"`
		HandlerErrors uint64 `json:"handler_errors"`
	} `json:"bus"`
}

type ctlAgent struct {
	ID                string  `json:"id"`
	Role              string  `json:"role"`
	Status            string  `json:"status"`
	SafetyScore       float64 `json:"safety_score"`
	CurrentAssignment string  `json:"current_assignment,omitempty"`
}

func sendControl(natsURL, cmdType string, payload map[string]any) (*ctlResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(ctlRequest{Type: cmdType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(controlSubject, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("control request: %w", err)
	}

	var resp ctlResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) (flags map[string]string, positional []string) {
	flags = make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			flags[args[i][2:]] = args[i+1]
			i++
			continue
		}
		positional = append(positional, args[i])
	}
	return flags, positional
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  arachnectl status")
	fmt.Fprintln(os.Stderr, "  arachnectl agents")
	fmt.Fprintln(os.Stderr, "  arachnectl seed <url> [url ...]")
	fmt.Fprintln(os.Stderr, "  arachnectl block <domain-pattern>")
	fmt.Fprintln(os.Stderr, `  arachnectl quarantine <agent-id> [--reason "..."]`)
	fmt.Fprintln(os.Stderr, "  arachnectl release <agent-id>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  ARACHNE_NATS_URL   Daemon NATS URL (default nats://localhost:4222)")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("ARACHNE_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	flags, positional := parseArgs(os.Args[2:])

	switch command {
	case "status":
		resp := must(sendControl(natsURL, "status", nil))
		printStatus(resp)

	case "agents":
		resp := must(sendControl(natsURL, "agents", nil))
		printAgents(resp.Agents)

	case "seed":
		if len(positional) == 0 {
			fatal("at least one url is required")
		}
		resp := must(sendControl(natsURL, "seed", map[string]any{"urls": positional}))
		fmt.Printf("Seeds added: %d of %d\n", resp.Added, len(positional))

	case "block":
		if len(positional) != 1 {
			fatal("exactly one domain pattern is required")
		}
		resp := must(sendControl(natsURL, "block", map[string]any{"pattern": positional[0]}))
		fmt.Printf("Blocked %q, %d queued entries dropped\n", positional[0], resp.Transitioned)

	case "quarantine":
		if len(positional) != 1 {
			fatal("agent id is required")
		}
		payload := map[string]any{"agent_id": positional[0]}
		if reason := flags["reason"]; reason != "" {
			payload["reason"] = reason
		}
		must(sendControl(natsURL, "quarantine", payload))
		fmt.Printf("Agent %q quarantined\n", positional[0])

	case "release":
		if len(positional) != 1 {
			fatal("agent id is required")
		}
		must(sendControl(natsURL, "release", map[string]any{"agent_id": positional[0]}))
		fmt.Printf("Agent %q released\n", positional[0])

	default:
		fatal("unknown command: %s", command)
	}
}

func must(resp *ctlResponse, err error) *ctlResponse {
	if err != nil {
		fatal("%v", err)
	}
	if resp.Error != "" {
		fatal("%s", resp.Error)
	}
	return resp
}

func printStatus(resp *ctlResponse) {
	fmt.Printf("arachne %s, up %s\n", resp.Version, resp.Uptime)
	if resp.Stats == nil {
		return
	}
	s := resp.Stats
	fmt.Printf("agents: %d (%s), pending role switches: %d\n",
		s.Agents, formatCounts(s.ByRole), s.PendingSwitches)
	f := s.Frontier
	fmt.Printf("frontier: %d queued, %d crawling, %d completed, %d failed, %d blocked (%d urls seen, %d domains)\n",
		f.Queued, f.Crawling, f.Completed, f.Failed, f.Blocked, f.Seen, f.Domains)
	fmt.Printf("bus: %d published, %d delivered, %d handler errors\n",
		s.Bus.Published, s.Bus.Delivered, s.Bus.HandlerErrors)
}

// formatCounts renders a count map as "2 scout, 1 sentinel" in stable order.
func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", m[k], k)
	}
	return out
}

func printAgents(agents []ctlAgent) {
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tSTATUS\tSAFETY\tASSIGNMENT")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", a.ID, a.Role, a.Status, a.SafetyScore, a.CurrentAssignment)
	}
	w.Flush()
}
