package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type options struct {
	server       string
	task         string
	system       string
	contextFile  string
	schemaFile   string
	dual         bool
	perspectiveA string
	perspectiveB string
	threshold    float64
}

func main() {
	var o options
	flag.StringVar(&o.server, "server", "http://localhost:8080", "Nuka Reason server URL")
	flag.StringVar(&o.task, "task", "cli-task", "Task name reported with each request")
	flag.StringVar(&o.system, "system", "", "System prompt")
	flag.StringVar(&o.contextFile, "context", "", "Path to a JSON object passed as task context")
	flag.StringVar(&o.schemaFile, "schema", "", "Path to a JSON validation schema")
	flag.BoolVar(&o.dual, "dual", false, "Run two independent reasoning paths")
	flag.StringVar(&o.perspectiveA, "perspective-a", "", "Perspective for path A")
	flag.StringVar(&o.perspectiveB, "perspective-b", "", "Perspective for path B")
	flag.Float64Var(&o.threshold, "threshold", -1, "Consensus threshold override for dual runs")
	prompt := flag.String("prompt", "", "Run a single prompt and exit")
	flag.Parse()

	base, err := o.baseRequest()
	if err != nil {
		printError("%v", err)
		os.Exit(1)
	}

	if *prompt != "" {
		if !send(o, base, *prompt) {
			os.Exit(1)
		}
		return
	}

	fmt.Println("Nuka Reason CLI")
	fmt.Printf("Server: %s | Task: %s | Dual: %v\n", o.server, o.task, o.dual)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /health, /stages")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch input {
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		case "/health":
			fetchHealth(o.server)
			continue
		case "/stages":
			fetchStages(o.server)
			continue
		}
		send(o, base, input)
	}
}

// baseRequest builds the request body shared by every prompt.
func (o options) baseRequest() (map[string]any, error) {
	req := map[string]any{"task_name": o.task}
	if o.contextFile != "" {
		var ctx map[string]any
		if err := readJSON(o.contextFile, &ctx); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		req["context"] = ctx
	}
	if o.schemaFile != "" {
		var schema map[string]any
		if err := readJSON(o.schemaFile, &schema); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		req["schema"] = schema
	}
	if o.dual {
		if o.perspectiveA != "" {
			req["perspective_a"] = o.perspectiveA
		}
		if o.perspectiveB != "" {
			req["perspective_b"] = o.perspectiveB
		}
		if o.threshold >= 0 {
			req["threshold"] = o.threshold
		}
	}
	return req, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func fetchHealth(server string) {
	resp, err := http.Get(server + "/api/health")
	if err != nil {
		printError("Failed to fetch health: %v", err)
		return
	}
	defer resp.Body.Close()

	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		printError("Failed to parse health: %v", err)
		return
	}
	fmt.Printf("%s: %s\n", health["service"], health["status"])
}

func fetchStages(server string) {
	resp, err := http.Get(server + "/api/stages")
	if err != nil {
		printError("Failed to fetch stages: %v", err)
		return
	}
	defer resp.Body.Close()

	var stages []struct {
		Index       int    `json:"index"`
		Stage       string `json:"stage"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stages); err != nil {
		printError("Failed to parse stages: %v", err)
		return
	}
	fmt.Println("Reasoning stages:")
	for _, s := range stages {
		fmt.Printf("  %d. %s: %s\n", s.Index+1, s.Stage, s.Description)
	}
}

func send(o options, base map[string]any, input string) bool {
	req := make(map[string]any, len(base)+1)
	for k, v := range base {
		req[k] = v
	}
	req["prompt"] = map[string]string{"system": o.system, "user": input}
	body, _ := json.Marshal(req)

	path := "/api/reason"
	if o.dual {
		path = "/api/reason/dual"
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(o.server+path, "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return false
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return true
	}
	fmt.Println(out.String())
	return true
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
