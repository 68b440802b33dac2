// ABOUTME: Demo agent that exercises a hookline hub end to end
// ABOUTME: Emits lifecycle events and walks through each HITL question kind

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/hookline/pkg/hookclient"
)

func main() {
	hubURL := flag.String("hub", "http://127.0.0.1:4000", "Hookline hub base URL")
	sourceApp := flag.String("source-app", "fake-agent", "Source application name")
	sessionID := flag.String("session", "", "Session ID (random if empty)")
	timeout := flag.Duration("timeout", 60*time.Second, "HITL answer timeout")
	skipHITL := flag.Bool("skip-hitl", false, "Only emit events, skip the interactive questions")
	flag.Parse()

	if *sessionID == "" {
		*sessionID = uuid.New().String()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *hubURL, *sourceApp, *sessionID, *timeout, *skipHITL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, hubURL, sourceApp, sessionID string, timeout time.Duration, skipHITL bool) error {
	client := hookclient.New(hubURL, sourceApp, sessionID)

	fmt.Printf("session %s against %s\n\n", sessionID, hubURL)

	events := []struct {
		hookEventType string
		payload       any
	}{
		{"session_start", map[string]any{"cwd": "/home/dev/project", "model": "gpt-5"}},
		{"pre_tool_use", map[string]any{"tool": "Bash", "command": "go test ./..."}},
		{"post_tool_use", map[string]any{"tool": "Bash", "exit_code": 0}},
		{"user_prompt_submit", map[string]any{"prompt": "add a retry to the fetcher"}},
	}

	for _, ev := range events {
		id, err := client.SendEvent(ctx, ev.hookEventType, ev.payload)
		if err != nil {
			return fmt.Errorf("sending %s: %w", ev.hookEventType, err)
		}
		fmt.Printf("  sent %-20s id=%d\n", ev.hookEventType, id)
		time.Sleep(200 * time.Millisecond)
	}

	if skipHITL {
		return finish(ctx, client)
	}

	fmt.Println("\nasking for permission (answer on a dashboard)...")
	allowed, err := client.AskPermission(ctx, "May I run `rm -rf ./build`?", timeout)
	if err != nil {
		fmt.Printf("  permission failed: %v\n", err)
	} else {
		fmt.Printf("  permission granted: %v\n", allowed)
	}

	fmt.Println("\nasking an open question...")
	answer, err := client.AskQuestion(ctx, "Which branch should I target for this fix?", timeout)
	if err != nil {
		fmt.Printf("  question failed: %v\n", err)
	} else {
		fmt.Printf("  answer: %q\n", answer)
	}

	fmt.Println("\nasking for a choice...")
	choice, err := client.AskChoice(ctx, "Which test framework should I use?",
		[]string{"Vitest", "Jest", "Mocha"}, timeout)
	if err != nil {
		fmt.Printf("  choice failed: %v\n", err)
	} else {
		fmt.Printf("  chose: %q\n", choice)
	}

	return finish(ctx, client)
}

func finish(ctx context.Context, client *hookclient.Client) error {
	id, err := client.SendEvent(ctx, "stop", map[string]any{"reason": "demo complete"})
	if err != nil {
		return fmt.Errorf("sending stop: %w", err)
	}
	fmt.Printf("\n  sent %-20s id=%d\n", "stop", id)
	fmt.Println("done")
	return nil
}
