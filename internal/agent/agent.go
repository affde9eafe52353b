package agent

import (
	"context"

	"github.com/dusk-indust/a2abridge/internal/a2a"
)

// Agent is an A2A agent that can be served over HTTP.
type Agent interface {
	// Card returns the agent's A2A Agent Card.
	Card() a2a.AgentCard

	// Start launches the agent's HTTP server on the given address.
	Start(ctx context.Context, addr string) error

	// Stop gracefully shuts down the agent.
	Stop(ctx context.Context) error
}

// ProfileName identifies a built-in agent profile.
type ProfileName string

const (
	ProfileElevenLabs ProfileName = "elevenlabs"
	ProfileNotion     ProfileName = "notion"
)
