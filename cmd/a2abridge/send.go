package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/dusk-indust/a2abridge/internal/a2a"
	"github.com/dusk-indust/a2abridge/internal/agent"
	"github.com/dusk-indust/a2abridge/internal/config"
)

const defaultSendText = "Convert 'Hello from the A2A client, this is a test!' to speech."

type sendFlags struct {
	URL        string
	Profile    string
	Text       string
	TaskID     string
	ContextID  string
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
	Stream     bool
}

func runSend(ctx context.Context, args []string, stdout io.Writer) error {
	var flags sendFlags

	fs := pflag.NewFlagSet("a2abridge send", pflag.ContinueOnError)
	fs.StringVar(&flags.URL, "url", "", "agent base URL (default: from the profile's *_AGENT_A2A_URL)")
	fs.StringVar(&flags.Profile, "profile", string(agent.ProfileElevenLabs), "profile whose agent URL to use")
	fs.StringVarP(&flags.Text, "text", "m", defaultSendText, "message text")
	fs.StringVar(&flags.TaskID, "task-id", "", "continue an existing task")
	fs.StringVar(&flags.ContextID, "context-id", "", "conversation context id")
	fs.IntVar(&flags.Retries, "retries", 10, "tasks/get polls before giving up")
	fs.DurationVar(&flags.RetryDelay, "retry-delay", 2*time.Second, "delay between polls")
	fs.DurationVar(&flags.Timeout, "timeout", 30*time.Second, "per-request timeout")
	fs.BoolVar(&flags.Stream, "stream", false, "use message/stream and print each event")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if flags.URL == "" {
		cfg := &config.Config{}
		if err := cfg.ApplyEnv(os.Getenv); err != nil {
			return err
		}
		profile, err := agent.NewRegistry().Lookup(agent.ProfileName(flags.Profile))
		if err != nil {
			return err
		}
		flags.URL = cfg.AgentURL(flags.Profile, profile.DefaultPort)
	}

	return sendAndPoll(ctx, a2a.NewHTTPClient(a2a.WithTimeout(flags.Timeout)), flags, stdout)
}

// sendAndPoll discovers the agent, sends one message and polls the task
// until it completes or fails.
func sendAndPoll(ctx context.Context, client a2a.Client, flags sendFlags, stdout io.Writer) error {
	endpoint := strings.TrimSuffix(flags.URL, "/")
	fmt.Fprintf(stdout, "Connecting to agent at %s...\n", endpoint)

	card, err := client.DiscoverAgent(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("could not connect to agent at %s: %w", endpoint, err)
	}
	fmt.Fprintf(stdout, "Connected to %s %s.\n", card.Name, card.Version)
	fmt.Fprintf(stdout, "Query: %s\n\n", flags.Text)

	req := a2a.SendMessageRequest{Message: a2a.Message{
		MessageID: uuid.NewString(),
		TaskID:    flags.TaskID,
		ContextID: flags.ContextID,
		Role:      a2a.RoleUser,
		Parts:     []a2a.Part{a2a.TextPart(flags.Text)},
	}}

	if flags.Stream {
		return streamMessage(ctx, client, endpoint, req, stdout)
	}

	task, err := client.SendMessage(ctx, endpoint, req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	printJSON(stdout, "Send Message Response", task)
	fmt.Fprintf(stdout, "Task ID: %s\n\n", task.ID)

	for attempt := 1; attempt <= flags.Retries; attempt++ {
		task, err = client.GetTask(ctx, endpoint, a2a.GetTaskRequest{ID: task.ID})
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		printJSON(stdout, fmt.Sprintf("Get Task Response (attempt %d)", attempt), task)
		fmt.Fprintf(stdout, "Task State: %s\n", task.Status.State)

		switch task.Status.State {
		case a2a.TaskStateCompleted:
			printReply(stdout, task)
			return nil
		case a2a.TaskStateFailed:
			if task.Status.Message != nil {
				fmt.Fprintf(stdout, "Task Failed Message: %s\n", task.Status.Message.Text())
			}
			return fmt.Errorf("task %s failed", task.ID)
		case a2a.TaskStateCanceled, a2a.TaskStateRejected:
			return fmt.Errorf("task %s ended as %s", task.ID, task.Status.State)
		}

		if attempt < flags.Retries {
			fmt.Fprintf(stdout, "Task not final, retrying in %s...\n", flags.RetryDelay)
			select {
			case <-time.After(flags.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("task %s did not complete after %d polls", task.ID, flags.Retries)
}

func streamMessage(ctx context.Context, client a2a.Client, endpoint string, req a2a.SendMessageRequest, stdout io.Writer) error {
	events, err := client.StreamMessage(ctx, endpoint, req)
	if err != nil {
		return fmt.Errorf("stream message: %w", err)
	}
	for ev := range events {
		if ev.Err != nil {
			return fmt.Errorf("stream: %w", ev.Err)
		}
		printJSON(stdout, "Stream Event", ev)
	}
	return nil
}

func printReply(w io.Writer, task *a2a.Task) {
	if task.Status.Message != nil {
		fmt.Fprintf(w, "\n--- Reply ---\n%s\n", task.Status.Message.Text())
	}
	for i, art := range task.Artifacts {
		for j, p := range art.Parts {
			fmt.Fprintf(w, "  Artifact %d, Part %d:\n", i, j)
			if p.Text != "" {
				fmt.Fprintf(w, "    Text: %s\n", p.Text)
			}
			if p.URL != "" {
				fmt.Fprintf(w, "    URL: %s\n", p.URL)
			}
		}
	}
}

func printJSON(w io.Writer, title string, v any) {
	fmt.Fprintf(w, "--- %s ---\n", title)
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(w, "%+v\n\n", v)
		return
	}
	fmt.Fprintf(w, "%s\n\n", data)
}
